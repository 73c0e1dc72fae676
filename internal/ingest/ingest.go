// Package ingest streams uploaded CSV files into the raw record store.
//
// Headers are normalized (BOM strip, whitespace trim, diacritic folding,
// lowercasing, spaces to underscores) so "Géography " and "geography" land in
// the same column. Every upload must carry the geography and count columns;
// everything else is kept verbatim as subindicator data. Rows are written in
// batches, optionally deduplicated by content hash within the upload.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Geeker1/wazimap-ng/internal/aggregate"
	"github.com/Geeker1/wazimap-ng/internal/metrics"
	"github.com/Geeker1/wazimap-ng/internal/store"
)

// GeographyColumn is the reserved normalized header naming the geography.
const GeographyColumn = "geography"

// Options tune one upload.
type Options struct {
	// Delimiter is the CSV field separator; zero selects ','.
	Delimiter rune
	// Dedupe skips rows whose full content repeats an earlier row of the
	// same upload.
	Dedupe bool
	// BatchSize caps the rows per InsertRecords call; zero selects 1000.
	BatchSize int
}

// Result summarizes one upload.
type Result struct {
	UploadID uuid.UUID `json:"upload_id"`
	Rows     int64     `json:"rows"`
	Skipped  int64     `json:"skipped"`
}

// Ingestor writes uploads into a record store.
type Ingestor struct {
	store store.Store
}

// New returns an Ingestor writing to st.
func New(st store.Store) *Ingestor {
	return &Ingestor{store: st}
}

// foldHeader normalizes one header cell: trim, fold diacritics, lowercase,
// spaces to underscores.
func foldHeader(h string) string {
	h = strings.TrimSpace(h)
	folded, _, err := transform.String(transform.Chain(
		norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), h)
	if err == nil {
		h = folded
	}
	h = strings.ToLower(h)
	return strings.ReplaceAll(h, " ", "_")
}

// Run streams CSV from src into datasetID. The first line must be a header
// containing the geography and count columns after normalization.
func (ing *Ingestor) Run(ctx context.Context, datasetID int64, src io.Reader, opt Options) (Result, error) {
	res := Result{UploadID: uuid.New()}

	delim := opt.Delimiter
	if delim == 0 {
		delim = ','
	}
	batchSize := opt.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	cr := csv.NewReader(src)
	cr.Comma = delim
	cr.TrimLeadingSpace = true
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	hdr, err := cr.Read()
	if err != nil {
		return res, fmt.Errorf("read header: %w", err)
	}
	headers := make([]string, len(hdr))
	geoIdx := -1
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		headers[i] = foldHeader(h)
		if headers[i] == GeographyColumn {
			geoIdx = i
		}
	}
	if geoIdx < 0 {
		return res, &aggregate.ValidationError{Reason: "missing required header: geography"}
	}
	if !contains(headers, store.CountColumn) {
		return res, &aggregate.ValidationError{Reason: "missing required header: count"}
	}

	var (
		batch []store.RawRecord
		seen  map[uint64]struct{}
		line  = 1
	)
	if opt.Dedupe {
		seen = make(map[uint64]struct{})
	}

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := ing.store.InsertRecords(ctx, datasetID, batch)
		if err != nil {
			return &aggregate.PersistenceError{Op: "insert records", Err: err}
		}
		res.Rows += n
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return res, fmt.Errorf("line %d: %w", line, err)
		}

		if opt.Dedupe {
			h := hashRow(rec)
			if _, dup := seen[h]; dup {
				res.Skipped++
				continue
			}
			seen[h] = struct{}{}
		}

		data := make(map[string]string, len(headers))
		for i, v := range rec {
			if i >= len(headers) {
				break
			}
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			data[headers[i]] = v
		}

		geo, ok := data[GeographyColumn]
		if !ok {
			return res, &aggregate.ValidationError{
				Reason: fmt.Sprintf("line %d: empty geography", line),
			}
		}
		delete(data, GeographyColumn)

		if raw, ok := data[store.CountColumn]; ok {
			if _, err := strconv.ParseFloat(raw, 64); err != nil {
				return res, &aggregate.DataError{
					Reason: fmt.Sprintf("line %d: count %q is not numeric", line, raw),
				}
			}
		}

		batch = append(batch, store.RawRecord{GeographyID: geo, Data: data})
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	metrics.RecordRows(fmt.Sprintf("dataset_%d", datasetID), "ingested", res.Rows)
	metrics.RecordRows(fmt.Sprintf("dataset_%d", datasetID), "skipped", res.Skipped)
	log.Printf("ingest: upload=%s dataset=%d rows=%d skipped=%d",
		res.UploadID, datasetID, res.Rows, res.Skipped)
	return res, nil
}

// hashRow fingerprints a row's cells for within-upload deduplication.
func hashRow(rec []string) uint64 {
	var h xxh3.Hasher
	for _, v := range rec {
		h.WriteString(v)
		h.Write([]byte{0})
	}
	return h.Sum64()
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
