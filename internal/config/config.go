// Package config defines the canonical, JSON-serializable configuration model
// for aggregation jobs. It is intentionally small and explicit so job files
// can be loaded from disk and passed through the program without glue code.
//
// Example (trimmed):
//
//	{
//	  "job": "census-2022",
//	  "storage": { "kind": "postgres", "db": { "dsn": "postgresql://..." } },
//	  "runtime": { "extract_workers": 4, "batch_size": 1000 },
//	  "indicators": [
//	    {
//	      "id": 1, "dataset_id": 10, "name": "youth_by_gender",
//	      "groups": ["gender", "age_group"], "primary_group": "age_group",
//	      "universe": [{ "group": "age_group", "value": "15-24" }]
//	    }
//	  ],
//	  "ingest": { "options": { "dedupe": true, "delimiter": ";" } }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Geeker1/wazimap-ng/internal/aggregate"
	"github.com/Geeker1/wazimap-ng/internal/ingest"
	"github.com/Geeker1/wazimap-ng/internal/store"
)

// Job is the top-level object decoded from a job file.
type Job struct {
	// Job names the run; it is used for metrics labeling and logging.
	Job string `json:"job"`

	Storage    Storage     `json:"storage"`
	Runtime    Runtime     `json:"runtime"`
	Indicators []Indicator `json:"indicators"`
	Ingest     Ingest      `json:"ingest"`
}

// Storage selects and parameterizes the backend holding raw records and
// indicator output.
type Storage struct {
	// Kind selects the backend: "postgres", "sqlite", "mysql", "memory".
	Kind string `json:"kind"`

	DB DBConfig `json:"db"`
}

// DBConfig configures the database connection.
type DBConfig struct {
	// DSN is the backend connection string; ignored by the memory backend.
	DSN string `json:"dsn"`

	// DatasetTable and DataTable override the default table names.
	DatasetTable string `json:"dataset_table"`
	DataTable    string `json:"data_table"`

	// AutoCreate creates missing tables on startup.
	AutoCreate bool `json:"auto_create"`
}

// Runtime controls concurrency and batching.
type Runtime struct {
	// ExtractWorkers bounds concurrent extraction queries per group pass.
	ExtractWorkers int `json:"extract_workers"`
	// BatchSize caps rows per ingestion insert.
	BatchSize int `json:"batch_size"`
}

// Indicator declares one indicator to recompute.
type Indicator struct {
	ID        int64  `json:"id"`
	DatasetID int64  `json:"dataset_id"`
	Name      string `json:"name"`
	Label     string `json:"label"`

	Groups       []string `json:"groups"`
	PrimaryGroup string   `json:"primary_group"`
	Universe     []Filter `json:"universe"`
}

// Filter is one universe predicate.
type Filter struct {
	Group string `json:"group"`
	Value string `json:"value"`
}

// Ingest carries upload-time options.
type Ingest struct {
	// Options is a free-form bag; recognized keys are "delimiter" (string),
	// "dedupe" (bool), and "batch_size" (int).
	Options Options `json:"options"`
}

// Load reads and decodes a job file.
func Load(path string) (Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return Job{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var job Job
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&job); err != nil {
		return Job{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return job, nil
}

// StoreConfig converts the storage section to the store factory's config.
func (j Job) StoreConfig() store.Config {
	return store.Config{
		Kind:         j.Storage.Kind,
		DSN:          j.Storage.DB.DSN,
		DatasetTable: j.Storage.DB.DatasetTable,
		DataTable:    j.Storage.DB.DataTable,
		AutoCreate:   j.Storage.DB.AutoCreate,
	}
}

// IngestOptions converts the ingest options bag to typed upload options.
func (j Job) IngestOptions() ingest.Options {
	opt := j.Ingest.Options
	return ingest.Options{
		Delimiter: opt.Rune("delimiter", ','),
		Dedupe:    opt.Bool("dedupe", false),
		BatchSize: opt.Int("batch_size", j.Runtime.BatchSize),
	}
}

// Aggregate converts a declared indicator to the pipeline's model.
func (i Indicator) Aggregate() aggregate.Indicator {
	universe := make(aggregate.Universe, 0, len(i.Universe))
	for _, f := range i.Universe {
		universe = append(universe, aggregate.Filter{Group: f.Group, Value: f.Value})
	}
	return aggregate.Indicator{
		ID:           i.ID,
		DatasetID:    i.DatasetID,
		Name:         i.Name,
		Label:        i.Label,
		Groups:       i.Groups,
		PrimaryGroup: i.PrimaryGroup,
		Universe:     universe,
	}
}

// Options is a small helper to fetch typed values from arbitrary JSON maps.
// It performs only minimal type coercion and returns the provided default
// when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64,
// so both float64 and int are accepted.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def. Useful for
// single-character settings such as the CSV delimiter.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			return []rune(s)[0]
		}
	}
	return def
}

// UnmarshalJSON decodes a missing or null options object to a non-nil, empty
// map so call sites need no nil checks.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}
