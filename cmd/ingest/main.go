package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Geeker1/wazimap-ng/internal/config"
	"github.com/Geeker1/wazimap-ng/internal/ingest"
	"github.com/Geeker1/wazimap-ng/internal/store"

	// register all backends with the storage factory.
	_ "github.com/Geeker1/wazimap-ng/internal/store/all"
)

// main is the entry point for the upload binary. It streams one CSV file
// into the raw record store configured by the job file.
func main() {
	var (
		cfgPath   string
		filePath  string
		datasetID int64
		delimiter string
		dedupe    bool
	)

	flag.StringVar(&cfgPath, "config", "configs/jobs/sample.json", "job config JSON path")
	flag.StringVar(&filePath, "file", "", "CSV file to upload (default stdin)")
	flag.Int64Var(&datasetID, "dataset", 0, "dataset id receiving the rows")
	flag.StringVar(&delimiter, "delimiter", "", "field separator (overrides config)")
	flag.BoolVar(&dedupe, "dedupe", false, "skip duplicate rows within this upload (overrides config)")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	if datasetID <= 0 {
		fatalf("-dataset must be a positive id")
	}

	job, err := config.Load(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}
	issues := config.Validate(job)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		log.Printf("configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}

	src := os.Stdin
	if filePath != "" {
		f, err := os.Open(filePath)
		if err != nil {
			fatalf("open upload: %v", err)
		}
		defer f.Close()
		src = f
	}

	opt := job.IngestOptions()
	if delimiter != "" {
		opt.Delimiter = []rune(delimiter)[0]
	}
	if dedupe {
		opt.Dedupe = true
	}

	ctx := context.Background()
	st, err := store.New(ctx, job.StoreConfig())
	if err != nil {
		fatalf("open storage: %v", err)
	}
	defer st.Close()
	if job.Storage.DB.AutoCreate {
		if err := st.EnsureSchema(ctx); err != nil {
			fatalf("ensure schema: %v", err)
		}
	}

	start := time.Now()
	res, err := ingest.New(st).Run(ctx, datasetID, src, opt)
	if err != nil {
		fatalf("ingest: %v", err)
	}
	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}
	if err := json.NewEncoder(os.Stdout).Encode(res); err != nil {
		fatalf("encode result: %v", err)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
