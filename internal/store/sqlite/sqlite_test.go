package sqlite

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"testing"

	"github.com/Geeker1/wazimap-ng/internal/aggregate"
	"github.com/Geeker1/wazimap-ng/internal/store"
)

// openTest opens a per-test shared-cache memory database so parallel tests
// never see each other's tables.
func openTest(tb testing.TB) *Store {
	tb.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", url.PathEscape(tb.Name()))
	s, err := Open(context.Background(), store.Config{Kind: "sqlite", DSN: dsn, AutoCreate: true})
	if err != nil {
		tb.Fatalf("Open: %v", err)
	}
	tb.Cleanup(s.Close)
	return s
}

func TestJSONPath(t *testing.T) {
	t.Parallel()

	if got, want := jsonPath("gender"), `$."gender"`; got != want {
		t.Errorf("jsonPath(gender) = %q, want %q", got, want)
	}
	if got, want := jsonPath(`age "band"`), `$."age \"band\""`; got != want {
		t.Errorf("jsonPath quoted = %q, want %q", got, want)
	}
}

func TestInsertAndDistinctValues(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()

	n, err := s.InsertRecords(ctx, 1, []store.RawRecord{
		{GeographyID: "ZA", Data: map[string]string{"gender": "male", "count": "1"}},
		{GeographyID: "ZA", Data: map[string]string{"gender": "female", "count": "2"}},
		{GeographyID: "WC", Data: map[string]string{"age": "15-19", "count": "3"}},
	})
	if err != nil {
		t.Fatalf("InsertRecords: %v", err)
	}
	if n != 3 {
		t.Fatalf("InsertRecords reported %d rows, want 3", n)
	}

	values, err := s.DistinctValues(ctx, 1, "gender")
	if err != nil {
		t.Fatalf("DistinctValues: %v", err)
	}
	if want := []string{"female", "male"}; !reflect.DeepEqual(values, want) {
		t.Errorf("DistinctValues = %v, want %v", values, want)
	}
}

func TestGroupedCounts(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()

	if _, err := s.InsertRecords(ctx, 1, []store.RawRecord{
		{GeographyID: "WC", Data: map[string]string{"gender": "male", "age": "15-19", "count": "10"}},
		{GeographyID: "WC", Data: map[string]string{"gender": "male", "age": "15-19", "count": "2.5"}},
		{GeographyID: "WC", Data: map[string]string{"gender": "female", "age": "15-19", "count": "7"}},
		{GeographyID: "EC", Data: map[string]string{"gender": "male", "age": "20-24", "count": "4"}},
		{GeographyID: "WC", Data: map[string]string{"gender": "male", "age": "15-19", "count": ""}},
		{GeographyID: "WC", Data: map[string]string{"gender": "male", "age": "15-19"}},
		{GeographyID: "WC", Data: map[string]string{"gender": "male", "count": "99"}},
	}); err != nil {
		t.Fatalf("InsertRecords: %v", err)
	}

	rows, err := s.GroupedCounts(ctx, aggregate.CountQuery{
		DatasetID: 1,
		Columns:   []string{"gender", "age"},
		HasKeys:   []string{"gender", "age"},
	})
	if err != nil {
		t.Fatalf("GroupedCounts: %v", err)
	}

	want := []aggregate.ExtractedRow{
		{GeographyID: "EC", Values: map[string]string{"gender": "male", "age": "20-24"}, Count: 4},
		{GeographyID: "WC", Values: map[string]string{"gender": "female", "age": "15-19"}, Count: 7},
		{GeographyID: "WC", Values: map[string]string{"gender": "male", "age": "15-19"}, Count: 12.5},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("GroupedCounts = %+v, want %+v", rows, want)
	}
}

func TestGroupedCountsWithFilter(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()

	if _, err := s.InsertRecords(ctx, 1, []store.RawRecord{
		{GeographyID: "WC", Data: map[string]string{"gender": "male", "employment": "employed", "count": "3"}},
		{GeographyID: "WC", Data: map[string]string{"gender": "male", "employment": "unemployed", "count": "5"}},
		{GeographyID: "WC", Data: map[string]string{"gender": "female", "employment": "employed", "count": "8"}},
	}); err != nil {
		t.Fatalf("InsertRecords: %v", err)
	}

	rows, err := s.GroupedCounts(ctx, aggregate.CountQuery{
		DatasetID: 1,
		Columns:   []string{"gender"},
		HasKeys:   []string{"gender"},
		Filters:   []aggregate.Filter{{Group: "employment", Value: "employed"}},
	})
	if err != nil {
		t.Fatalf("GroupedCounts: %v", err)
	}
	want := []aggregate.ExtractedRow{
		{GeographyID: "WC", Values: map[string]string{"gender": "female"}, Count: 8},
		{GeographyID: "WC", Values: map[string]string{"gender": "male"}, Count: 3},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("GroupedCounts = %+v, want %+v", rows, want)
	}
}

func TestRunInTxRollback(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()

	seedErr := s.RunInTx(ctx, func(tx store.Tx) error {
		_, err := tx.InsertIndicatorData(ctx, []aggregate.IndicatorData{
			{IndicatorID: 7, GeographyID: "WC", Data: aggregate.Data{
				Subindicators: aggregate.Breakdown{Flat: map[string]float64{"male": 3}},
			}},
		})
		return err
	})
	if seedErr != nil {
		t.Fatalf("RunInTx seed: %v", seedErr)
	}

	before, err := s.IndicatorData(ctx, 7)
	if err != nil {
		t.Fatalf("IndicatorData: %v", err)
	}
	if len(before) != 1 {
		t.Fatalf("IndicatorData has %d rows, want 1", len(before))
	}

	boom := errors.New("boom")
	err = s.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.DeleteIndicatorData(ctx, 7); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx error = %v, want %v", err, boom)
	}

	after, err := s.IndicatorData(ctx, 7)
	if err != nil {
		t.Fatalf("IndicatorData: %v", err)
	}
	if !reflect.DeepEqual(after, before) {
		t.Errorf("rolled-back state = %+v, want %+v", after, before)
	}
}

func TestIndicatorDataRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTest(t)
	ctx := context.Background()

	in := aggregate.IndicatorData{
		IndicatorID: 9,
		GeographyID: "WC",
		Data: aggregate.Data{
			Groups: map[string]map[string]aggregate.Breakdown{
				"age": {
					"15-19": {Flat: map[string]float64{"male": 10, "female": 7}},
				},
			},
			Subindicators: aggregate.Breakdown{Flat: map[string]float64{"male": 10, "female": 7}},
		},
	}
	err := s.RunInTx(ctx, func(tx store.Tx) error {
		_, err := tx.InsertIndicatorData(ctx, []aggregate.IndicatorData{in})
		return err
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	out, err := s.IndicatorData(ctx, 9)
	if err != nil {
		t.Fatalf("IndicatorData: %v", err)
	}
	if len(out) != 1 || !reflect.DeepEqual(out[0], in) {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}
