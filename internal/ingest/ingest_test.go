package ingest

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/Geeker1/wazimap-ng/internal/aggregate"
	"github.com/Geeker1/wazimap-ng/internal/store/memory"
)

func TestFoldHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Geography", "geography"},
		{"  Count ", "count"},
		{"Age Group", "age_group"},
		{"Géography", "geography"},
		{"EMPLOYMENT STATUS", "employment_status"},
	}
	for _, tt := range tests {
		if got := foldHeader(tt.in); got != tt.want {
			t.Errorf("foldHeader(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRunHappyPath(t *testing.T) {
	t.Parallel()

	s := memory.New()
	csvData := "Geography,Gender,Age Group,Count\n" +
		"WC,Male,0-9,10\n" +
		"WC,Female,0-9,8\n" +
		"EC,Male,10-19,5\n"

	res, err := New(s).Run(context.Background(), 1, strings.NewReader(csvData), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Rows != 3 || res.Skipped != 0 {
		t.Errorf("result = %+v, want 3 rows, 0 skipped", res)
	}
	if res.UploadID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("upload ID was not assigned")
	}

	values, err := s.DistinctValues(context.Background(), 1, "gender")
	if err != nil {
		t.Fatalf("DistinctValues: %v", err)
	}
	if want := []string{"Female", "Male"}; !reflect.DeepEqual(values, want) {
		t.Errorf("gender values = %v, want %v", values, want)
	}

	rows, err := s.GroupedCounts(context.Background(), aggregate.CountQuery{
		DatasetID: 1,
		Columns:   []string{"age_group"},
		HasKeys:   []string{"age_group"},
	})
	if err != nil {
		t.Fatalf("GroupedCounts: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("GroupedCounts = %+v, want 2 rows", rows)
	}
}

func TestRunMissingRequiredHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		csv  string
	}{
		{"no geography", "Gender,Count\nMale,1\n"},
		{"no count", "Geography,Gender\nWC,Male\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(memory.New()).Run(context.Background(), 1, strings.NewReader(tt.csv), Options{})
			var vErr *aggregate.ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Run error = %v, want ValidationError", err)
			}
		})
	}
}

func TestRunNonNumericCount(t *testing.T) {
	t.Parallel()

	csvData := "Geography,Gender,Count\nWC,Male,lots\n"
	_, err := New(memory.New()).Run(context.Background(), 1, strings.NewReader(csvData), Options{})
	var dErr *aggregate.DataError
	if !errors.As(err, &dErr) {
		t.Fatalf("Run error = %v, want DataError", err)
	}
	if !strings.Contains(dErr.Reason, "line 2") {
		t.Errorf("reason should name the line: %q", dErr.Reason)
	}
}

func TestRunEmptyGeography(t *testing.T) {
	t.Parallel()

	csvData := "Geography,Gender,Count\n,Male,1\n"
	_, err := New(memory.New()).Run(context.Background(), 1, strings.NewReader(csvData), Options{})
	var vErr *aggregate.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("Run error = %v, want ValidationError", err)
	}
}

func TestRunDedupe(t *testing.T) {
	t.Parallel()

	s := memory.New()
	csvData := "Geography,Gender,Count\n" +
		"WC,Male,1\n" +
		"WC,Male,1\n" +
		"WC,Female,2\n" +
		"WC,Male,1\n"

	res, err := New(s).Run(context.Background(), 1, strings.NewReader(csvData), Options{Dedupe: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Rows != 2 || res.Skipped != 2 {
		t.Errorf("result = %+v, want 2 rows, 2 skipped", res)
	}
}

func TestRunEmptyCellsAreOmitted(t *testing.T) {
	t.Parallel()

	s := memory.New()
	csvData := "Geography,Gender,Count\n" +
		"WC,,5\n" +
		"WC,Male,\n"

	res, err := New(s).Run(context.Background(), 1, strings.NewReader(csvData), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Rows != 2 {
		t.Fatalf("result = %+v, want 2 rows", res)
	}

	// The row with an empty gender has no gender key; the row with an empty
	// count is stored but excluded from aggregation.
	rows, err := s.GroupedCounts(context.Background(), aggregate.CountQuery{
		DatasetID: 1,
		Columns:   []string{"gender"},
		HasKeys:   []string{"gender"},
	})
	if err != nil {
		t.Fatalf("GroupedCounts: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("GroupedCounts = %+v, want none", rows)
	}
}

func TestRunSemicolonDelimiter(t *testing.T) {
	t.Parallel()

	s := memory.New()
	csvData := "Geography;Gender;Count\nWC;Male;3\n"

	res, err := New(s).Run(context.Background(), 1, strings.NewReader(csvData), Options{Delimiter: ';'})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Rows != 1 {
		t.Errorf("result = %+v, want 1 row", res)
	}
}

func TestRunBatching(t *testing.T) {
	t.Parallel()

	s := memory.New()
	var sb strings.Builder
	sb.WriteString("Geography,Gender,Count\n")
	for i := 0; i < 25; i++ {
		sb.WriteString("WC,Male,1\n")
	}

	res, err := New(s).Run(context.Background(), 1, strings.NewReader(sb.String()), Options{BatchSize: 10})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Rows != 25 {
		t.Errorf("result = %+v, want 25 rows", res)
	}
}
