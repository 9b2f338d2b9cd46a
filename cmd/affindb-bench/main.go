// Command affindb-bench runs offline benchmark sweeps: it loads (or
// generates) a profile corpus, measures every index configuration in the
// catalog and reports which one to run under the configured latency budget.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ruggierom/affindb/pkg/core/tuner"
	"github.com/ruggierom/affindb/pkg/core/types"
	"github.com/ruggierom/affindb/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "", "Path to the benchmark YAML configuration file")
	corpusOut := flag.String("write-corpus", "", "Write the loaded or generated corpus to this msgpack file before sweeping")
	reportOut := flag.String("out", "", "Write the full report as JSON to this file")
	metricsAddr := flag.String("metrics-addr", "", "Expose /metrics and /healthz on this address while the sweep runs (e.g. :9109)")
	logLevel := flag.String("log-level", "", "Override the configured log level (debug|info|warn|error)")
	flag.Parse()

	if err := run(*configPath, *corpusOut, *reportOut, *metricsAddr, *logLevel); err != nil {
		slog.Error("benchmark failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, corpusOut, reportOut, metricsAddr, logLevel string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	// Ctrl+C cancels the sweep instead of killing the process mid-table.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var corpus []types.Profile
	if cfg.Corpus.File != "" {
		corpus, err = loadCorpus(cfg.Corpus.File, cfg.Dim)
		if err != nil {
			return err
		}
		slog.Info("corpus loaded", "file", cfg.Corpus.File, "profiles", len(corpus))
	} else {
		corpus = generateCorpus(cfg.Dim, cfg.Corpus.Synthetic, cfg.Seed)
		slog.Info("synthetic corpus generated",
			"profiles", len(corpus),
			"archetypes", cfg.Corpus.Synthetic.Archetypes,
			"jitter", cfg.Corpus.Synthetic.Jitter,
			"seed", cfg.Seed)
	}

	if corpusOut != "" {
		if err := writeCorpus(corpusOut, cfg.Dim, corpus); err != nil {
			return err
		}
		slog.Info("corpus written", "file", corpusOut)
	}

	if metricsAddr != "" {
		srv := startMetricsServer(metricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	tn := tuner.New(tuner.Options{
		SampleSize: cfg.SampleSize,
		K:          cfg.K,
		Seed:       cfg.Seed,
	})

	slog.Info("starting sweep",
		"configs", len(cfg.Catalog),
		"queries", cfg.SampleSize,
		"k", cfg.K,
		"budget_ms", cfg.LatencyBudgetMs)

	start := time.Now()
	results, err := tn.Run(ctx, corpus, cfg.Catalog)
	if err != nil {
		metrics.BenchmarkSweepsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.BenchmarkSweepsTotal.WithLabelValues("ok").Inc()
	slog.Info("sweep finished", "took", time.Since(start).Round(time.Millisecond))

	best, err := tuner.SelectBest(results, cfg.LatencyBudgetMs)
	if err != nil {
		return err
	}
	metrics.BenchmarkBestRecall.Set(best.Recall)

	printReport(os.Stdout, results, best.Config, cfg.LatencyBudgetMs)

	if reportOut != "" {
		if err := writeReport(reportOut, results, best, cfg.LatencyBudgetMs); err != nil {
			return err
		}
		slog.Info("report written", "file", reportOut)
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startMetricsServer exposes the Prometheus collectors and a liveness probe
// for the duration of the sweep. No other HTTP surface exists.
func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		slog.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

// printReport renders the sweep as an aligned table, one row per config in
// catalog order, marking the budget winner. Failed configs render as failed
// rows instead of aborting the report.
func printReport(w io.Writer, results []types.BenchmarkResult, winner types.IndexConfig, budgetMs float64) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "CONFIG\tRECALL@K\tAVG MS\tP95 MS\tQPS\t\n")
	for _, r := range results {
		if r.Failed() {
			fmt.Fprintf(tw, "%s\tfailed: %s\t-\t-\t-\t\n", r.Config, r.Err)
			continue
		}
		mark := ""
		if r.Config == winner {
			mark = "<- winner"
		}
		fmt.Fprintf(tw, "%s\t%.3f\t%.4f\t%.4f\t%.0f\t%s\n",
			r.Config, r.Recall, r.AvgLatencyMs, r.P95LatencyMs, r.ThroughputQPS, mark)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nbudget: p95 <= %.2f ms\n", budgetMs)
}

// reportFile is the JSON shape written by -out.
type reportFile struct {
	GeneratedAt     time.Time               `json:"generated_at"`
	LatencyBudgetMs float64                 `json:"latency_budget_ms"`
	Winner          types.BenchmarkResult   `json:"winner"`
	Results         []types.BenchmarkResult `json:"results"`
}

func writeReport(path string, results []types.BenchmarkResult, winner types.BenchmarkResult, budgetMs float64) error {
	// JSON has no Inf. Failed rows keep their Err marker; the sentinel
	// latencies are dropped.
	sanitized := make([]types.BenchmarkResult, len(results))
	for i, r := range results {
		sanitized[i] = sanitizeResult(r)
	}

	data, err := json.MarshalIndent(reportFile{
		GeneratedAt:     time.Now().UTC(),
		LatencyBudgetMs: budgetMs,
		Winner:          sanitizeResult(winner),
		Results:         sanitized,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("report marshal failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("could not write report '%s': %w", path, err)
	}
	return nil
}

func sanitizeResult(r types.BenchmarkResult) types.BenchmarkResult {
	if math.IsInf(r.AvgLatencyMs, 1) {
		r.AvgLatencyMs = 0
	}
	if math.IsInf(r.P95LatencyMs, 1) {
		r.P95LatencyMs = 0
	}
	return r
}
