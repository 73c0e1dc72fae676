package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/Geeker1/wazimap-ng/internal/aggregate"
)

const sampleJob = `{
  "job": "census-2022",
  "storage": {
    "kind": "sqlite",
    "db": { "dsn": "file:census.db", "auto_create": true }
  },
  "runtime": { "extract_workers": 4, "batch_size": 500 },
  "indicators": [
    {
      "id": 1,
      "dataset_id": 10,
      "name": "youth_by_gender",
      "label": "Youth by gender",
      "groups": ["gender", "age_group"],
      "primary_group": "age_group",
      "universe": [{ "group": "age_group", "value": "15-24" }]
    }
  ],
  "ingest": { "options": { "dedupe": true, "delimiter": ";" } }
}`

func writeJob(tb testing.TB, content string) string {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "job.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		tb.Fatalf("write job file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Parallel()

	job, err := Load(writeJob(t, sampleJob))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if job.Job != "census-2022" {
		t.Errorf("job = %q", job.Job)
	}
	if job.Storage.Kind != "sqlite" || !job.Storage.DB.AutoCreate {
		t.Errorf("storage = %+v", job.Storage)
	}
	if job.Runtime.ExtractWorkers != 4 || job.Runtime.BatchSize != 500 {
		t.Errorf("runtime = %+v", job.Runtime)
	}
	if len(job.Indicators) != 1 {
		t.Fatalf("indicators = %+v", job.Indicators)
	}
	ind := job.Indicators[0]
	if ind.PrimaryGroup != "age_group" || len(ind.Universe) != 1 {
		t.Errorf("indicator = %+v", ind)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Load(writeJob(t, `{"job": "x", "storrage": {}}`))
	if err == nil {
		t.Fatal("Load accepted a misspelled field")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Fatal("Load of missing file succeeded")
	}
}

func TestStoreConfig(t *testing.T) {
	t.Parallel()

	job, err := Load(writeJob(t, sampleJob))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := job.StoreConfig()
	if cfg.Kind != "sqlite" || cfg.DSN != "file:census.db" || !cfg.AutoCreate {
		t.Errorf("StoreConfig = %+v", cfg)
	}
}

func TestIngestOptions(t *testing.T) {
	t.Parallel()

	job, err := Load(writeJob(t, sampleJob))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	opt := job.IngestOptions()
	if opt.Delimiter != ';' || !opt.Dedupe || opt.BatchSize != 500 {
		t.Errorf("IngestOptions = %+v", opt)
	}

	// No ingest section: defaults apply, batch size falls back to runtime.
	bare := Job{Runtime: Runtime{BatchSize: 200}}
	opt = bare.IngestOptions()
	if opt.Delimiter != ',' || opt.Dedupe || opt.BatchSize != 200 {
		t.Errorf("default IngestOptions = %+v", opt)
	}
}

func TestIndicatorAggregate(t *testing.T) {
	t.Parallel()

	ind := Indicator{
		ID: 3, DatasetID: 7, Name: "youth", Label: "Youth",
		Groups: []string{"gender", "age"}, PrimaryGroup: "age",
		Universe: []Filter{{Group: "age", Value: "15-24"}},
	}
	got := ind.Aggregate()
	want := aggregate.Indicator{
		ID: 3, DatasetID: 7, Name: "youth", Label: "Youth",
		Groups: []string{"gender", "age"}, PrimaryGroup: "age",
		Universe: aggregate.Universe{{Group: "age", Value: "15-24"}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Aggregate() = %+v, want %+v", got, want)
	}
}

func TestOptionsTypedAccess(t *testing.T) {
	t.Parallel()

	o := Options{
		"name":    "x",
		"flag":    true,
		"workers": float64(7),
		"comma":   ";",
		"wrong":   []any{1},
	}
	if got := o.String("name", "d"); got != "x" {
		t.Errorf("String = %q", got)
	}
	if got := o.String("wrong", "d"); got != "d" {
		t.Errorf("String fallback = %q", got)
	}
	if !o.Bool("flag", false) || o.Bool("missing", false) {
		t.Error("Bool lookup failed")
	}
	if got := o.Int("workers", 0); got != 7 {
		t.Errorf("Int = %d", got)
	}
	if got := o.Rune("comma", ','); got != ';' {
		t.Errorf("Rune = %q", got)
	}
	if got := o.Rune("missing", ','); got != ',' {
		t.Errorf("Rune fallback = %q", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := Job{
		Job:     "census",
		Storage: Storage{Kind: "memory"},
		Indicators: []Indicator{{
			ID: 1, DatasetID: 1, Name: "x",
			Groups: []string{"g"}, PrimaryGroup: "g",
		}},
	}

	tests := []struct {
		name     string
		mutate   func(*Job)
		wantPath string
		wantErr  bool
	}{
		{"valid job has no errors", func(j *Job) {}, "", false},
		{"empty job name", func(j *Job) { j.Job = "" }, "job", true},
		{"empty storage kind", func(j *Job) { j.Storage.Kind = "" }, "storage.kind", true},
		{"sql kind without dsn", func(j *Job) { j.Storage.Kind = "postgres" }, "storage.db.dsn", true},
		{"negative workers", func(j *Job) { j.Runtime.ExtractWorkers = -1 }, "runtime.extract_workers", true},
		{"indicator without name", func(j *Job) { j.Indicators[0].Name = "" }, "indicators[0].name", true},
		{"indicator without dataset", func(j *Job) { j.Indicators[0].DatasetID = 0 }, "indicators[0].dataset_id", true},
		{"primary not in groups", func(j *Job) { j.Indicators[0].PrimaryGroup = "zz" }, "indicators[0].primary_group", true},
		{"too many groups", func(j *Job) {
			j.Indicators[0].Groups = []string{"a", "b", "c", "d"}
			j.Indicators[0].PrimaryGroup = "a"
		}, "indicators[0].groups", true},
		{"duplicate group", func(j *Job) {
			j.Indicators[0].Groups = []string{"g", "g"}
		}, "indicators[0].groups", true},
		{"incomplete universe entry", func(j *Job) {
			j.Indicators[0].Universe = []Filter{{Group: "g"}}
		}, "indicators[0].universe[0]", true},
		{"unknown storage kind warns only", func(j *Job) {
			j.Storage.Kind = "oracle"
			j.Storage.DB.DSN = "oracle://x"
		}, "storage.kind", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			job := valid
			job.Indicators = append([]Indicator(nil), valid.Indicators...)
			tt.mutate(&job)

			issues := Validate(job)
			if got := HasErrors(issues); got != tt.wantErr {
				t.Fatalf("HasErrors = %v, want %v (issues %+v)", got, tt.wantErr, issues)
			}
			if tt.wantPath == "" {
				return
			}
			found := false
			for _, iss := range issues {
				if strings.HasPrefix(iss.Path, tt.wantPath) {
					found = true
				}
			}
			if !found {
				t.Errorf("no issue at path %q: %+v", tt.wantPath, issues)
			}
		})
	}
}

func TestValidateWarnsOnEmptyIndicators(t *testing.T) {
	t.Parallel()

	issues := Validate(Job{Job: "x", Storage: Storage{Kind: "memory"}})
	if HasErrors(issues) {
		t.Fatalf("unexpected errors: %+v", issues)
	}
	if len(issues) == 0 {
		t.Fatal("expected a warning for the empty indicator list")
	}
}
