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
	"github.com/Geeker1/wazimap-ng/internal/metrics"
	"github.com/Geeker1/wazimap-ng/internal/metrics/prompush"
	"github.com/Geeker1/wazimap-ng/internal/pipeline"
	"github.com/Geeker1/wazimap-ng/internal/store"

	// register all backends with the storage factory.
	_ "github.com/Geeker1/wazimap-ng/internal/store/all"
)

// main is the entry point for the recompute binary. It loads the job config,
// optionally initializes a metrics backend, and recomputes the declared
// indicators.
func main() {
	var (
		cfgPath           string
		indicatorName     string
		metricsBackendFlg string
		pushGatewayURLFlg string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/jobs/sample.json", "job config JSON path")
	flag.StringVar(&indicatorName, "indicator", "", "recompute only the named indicator")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "none", "metrics backend to use (pushgateway, none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

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
	if validate {
		log.Printf("configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	setupMetrics(metricsBackendFlg, pushGatewayURLFlg, job.Job, *verbose)
	defer func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}()

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

	inds := job.Indicators
	if indicatorName != "" {
		inds = nil
		for _, ind := range job.Indicators {
			if ind.Name == indicatorName {
				inds = append(inds, ind)
			}
		}
		if len(inds) == 0 {
			fatalf("no indicator named %q in %s", indicatorName, cfgPath)
		}
	}

	start := time.Now()
	var summaries []pipeline.RunSummary
	orch := pipeline.New(st, job.Runtime.ExtractWorkers)
	for _, ind := range inds {
		sum, err := orch.Recompute(ctx, ind.Aggregate())
		if err != nil {
			log.Printf("indicator %q failed: %v", ind.Name, err)
			continue
		}
		summaries = append(summaries, sum)
	}

	if *verbose {
		log.Printf("completed %d/%d indicators in %s",
			len(summaries), len(inds), time.Since(start).Truncate(time.Millisecond))
	}
	if err := json.NewEncoder(os.Stdout).Encode(summaries); err != nil {
		fatalf("encode summary: %v", err)
	}
	if len(summaries) < len(inds) {
		os.Exit(1)
	}
}

// setupMetrics decides the metrics backend: flag, then env, then default.
func setupMetrics(backendName, gatewayURL, jobName string, verbose bool) {
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "pushgateway":
		if gatewayURL == "" {
			gatewayURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gatewayURL == "" {
			gatewayURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(jobName, gatewayURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: url=%v backend=%v job=%v", gatewayURL, backendName, jobName)
		metrics.SetBackend(b)

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
