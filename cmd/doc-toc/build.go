package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"doc-toc/pkg/config"
	"doc-toc/pkg/orchestrate"
	"doc-toc/pkg/storage"
	"doc-toc/pkg/watch"
)

const dbGCInterval = 10 * time.Minute

// buildOptions holds the build subcommand flags
type buildOptions struct {
	configPath  string
	docKey      string
	docs        string
	allDocs     bool
	incremental bool
	full        bool
	retryFailed bool
	resetState  bool
	logLevel    string
	pprofAddr   string
}

// runBuild handles the build subcommand
func runBuild(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	var opts buildOptions
	fs.StringVar(&opts.configPath, "config", "config.yaml", "Path to config file")
	fs.StringVar(&opts.docKey, "doc", "", "Document key from config (single document)")
	fs.StringVar(&opts.docs, "docs", "", "Comma-separated document keys")
	fs.BoolVar(&opts.allDocs, "all-docs", false, "Build all configured documents")
	fs.BoolVar(&opts.incremental, "incremental", false, "Skip documents whose source is unchanged since the last successful build")
	fs.BoolVar(&opts.full, "full", false, "Force a full build (ignore incremental settings)")
	fs.BoolVar(&opts.retryFailed, "retry-failed", false, "Rebuild only documents whose last build failed or never finished")
	fs.BoolVar(&opts.resetState, "reset-state", false, "Remove the state database before building")
	fs.StringVar(&opts.logLevel, "loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	fs.StringVar(&opts.pprofAddr, "pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: doc-toc build [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  doc-toc build -doc user_guide\n")
		fmt.Fprintf(os.Stderr, "  doc-toc build -docs user_guide,api_reference -incremental\n")
		fmt.Fprintf(os.Stderr, "  doc-toc build --all-docs\n")
		fmt.Fprintf(os.Stderr, "  doc-toc build -retry-failed\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if !opts.retryFailed {
		if _, err := selectDocuments(opts.docKey, opts.docs, opts.allDocs); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fs.Usage()
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on the first signal, forced exit on the second
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		fmt.Fprintf(os.Stderr, "Received signal %v, finishing in-flight documents...\n", sig)
		cancel()

		select {
		case sig = <-sigChan:
			fmt.Fprintf(os.Stderr, "Received second signal %v, forcing exit\n", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			fmt.Fprintln(os.Stderr, "Graceful shutdown period exceeded, forcing exit")
			os.Exit(1)
		}
	}()
	defer signal.Stop(sigChan)

	os.Exit(doBuild(ctx, &opts, os.Stdout, os.Stderr))
}

// doBuild builds the selected documents and prints one line per document.
// Returns exit code (0 = success, 1 = error or any failed document).
func doBuild(ctx context.Context, opts *buildOptions, stdout, stderr io.Writer) int {
	log := setupLogger(opts.logLevel, stderr)

	appCfg, err := loadAndValidateConfig(opts.configPath, log)
	if err != nil {
		fmt.Fprintf(stderr, "Config error: %v\n", err)
		return 1
	}
	logAppConfig(appCfg, log)
	startPprof(opts.pprofAddr, log)

	incremental := applyIncrementalOverride(appCfg, opts.incremental, opts.full || opts.retryFailed, log)

	store, err := storage.NewBadgerStore(appCfg.StateDir, opts.resetState, log.WithField("component", "storage"))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open state DB: %v\n", err)
		return 1
	}
	defer store.Close()

	gcCtx, stopGC := context.WithCancel(ctx)
	defer stopGC()
	go store.RunGC(gcCtx, dbGCInterval)

	var keys []string
	if opts.retryFailed {
		if keys, err = retryKeys(ctx, appCfg, store, log); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if len(keys) == 0 {
			fmt.Fprintln(stdout, "No failed documents to retry.")
			return 0
		}
	} else {
		if keys, err = selectDocuments(opts.docKey, opts.docs, opts.allDocs); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if opts.allDocs {
			keys = orchestrate.GetAllDocumentKeys(appCfg)
		}
	}
	if len(keys) == 0 {
		fmt.Fprintln(stderr, "Error: no documents configured")
		return 1
	}
	if err := orchestrate.ValidateDocumentKeys(appCfg, keys); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := validateDocumentConfigs(appCfg, keys, log); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	orch := orchestrate.NewOrchestrator(appCfg, store, incremental, log.WithField("component", "build"))
	results, runErr := orch.Run(ctx, keys)
	printResults(stdout, results)

	switch {
	case errors.Is(runErr, context.Canceled):
		log.Warn("Build cancelled gracefully.")
		return 1
	case errors.Is(runErr, context.DeadlineExceeded):
		log.Error("Build timed out (global timeout).")
		return 1
	case runErr != nil:
		log.Errorf("Build finished with error: %v", runErr)
		return 1
	case len(orchestrate.Failed(results)) > 0:
		return 1
	}
	return 0
}

// retryKeys returns the configured documents whose last recorded build did not succeed
func retryKeys(ctx context.Context, appCfg *config.AppConfig, store storage.StateStore, log *logrus.Logger) ([]string, error) {
	incomplete, scanErrors, err := store.IncompleteDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning state DB: %w", err)
	}
	if scanErrors > 0 {
		log.Warnf("%d state entries could not be read and were skipped", scanErrors)
	}

	configured := orchestrate.GetAllDocumentKeys(appCfg)
	var keys []string
	for _, key := range incomplete {
		if slices.Contains(configured, key) {
			keys = append(keys, key)
		} else {
			log.Warnf("Document '%s' has failed state but is no longer configured; ignoring", key)
		}
	}
	log.Infof("Retrying %d failed documents", len(keys))
	return keys, nil
}

// applyIncrementalOverride applies CLI flag overrides for incremental/full build mode
// and returns the effective setting.
func applyIncrementalOverride(appCfg *config.AppConfig, incremental, full bool, log *logrus.Logger) bool {
	if incremental {
		appCfg.EnableIncremental = true
		log.Info("Incremental mode enabled via CLI flag")
	}
	if full {
		appCfg.EnableIncremental = false
		log.Info("Full build mode forced via CLI flag")
	}

	if appCfg.EnableIncremental {
		log.Info("Incremental builds: ENABLED - will skip unchanged documents")
	} else {
		log.Info("Incremental builds: DISABLED - will rebuild all documents")
	}
	return appCfg.EnableIncremental
}

// printResults writes a one-line outcome per document
func printResults(w io.Writer, results []orchestrate.DocumentResult) {
	for _, r := range results {
		switch {
		case r.Error != nil:
			fmt.Fprintf(w, "FAIL  %s: %v\n", r.Key, r.Error)
		case r.Skipped:
			fmt.Fprintf(w, "SKIP  %s (unchanged)\n", r.Key)
		default:
			fmt.Fprintf(w, "OK    %s -> %s (%d sections)\n", r.Key, r.OutputPath, r.Sections)
		}
	}
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	docKey := fs.String("doc", "", "Document key from config (single document)")
	docs := fs.String("docs", "", "Comma-separated document keys")
	allDocs := fs.Bool("all-docs", false, "Watch all configured documents")
	interval := fs.String("interval", "1h", "Rebuild interval (e.g., 30m, 1h, 24h, 7d)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: doc-toc watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  doc-toc watch -doc user_guide --interval 15m\n")
		fmt.Fprintf(os.Stderr, "  doc-toc watch --all-docs --interval 1d\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	keys, err := selectDocuments(*docKey, *docs, *allDocs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		os.Exit(1)
	}

	executeWatch(*configFile, keys, *allDocs, *interval, *logLevel)
}

// executeWatch runs the watch scheduler until a signal arrives
func executeWatch(configFile string, keys []string, allDocs bool, intervalStr, logLevelStr string) {
	log := setupLogger(logLevelStr, os.Stderr)

	interval, err := watch.ParseInterval(intervalStr)
	if err != nil {
		log.Fatalf("Invalid interval: %v", err)
	}
	log.Infof("Watch interval: %s", watch.FormatInterval(interval))

	appCfg, err := loadAndValidateConfig(configFile, log)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	// Watch mode is always incremental
	appCfg.EnableIncremental = true
	log.Info("Incremental mode enabled for watch")

	if allDocs {
		keys = orchestrate.GetAllDocumentKeys(appCfg)
		log.Infof("All documents mode: found %d documents", len(keys))
	}
	if len(keys) == 0 {
		log.Fatal("No documents configured")
	}
	if err := orchestrate.ValidateDocumentKeys(appCfg, keys); err != nil {
		log.Fatalf("Invalid document keys: %v", err)
	}
	if err := validateDocumentConfigs(appCfg, keys, log); err != nil {
		log.Fatal(err)
	}

	store, err := storage.NewBadgerStore(appCfg.StateDir, false, log.WithField("component", "storage"))
	if err != nil {
		log.Fatalf("Failed to open state DB: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go store.RunGC(ctx, dbGCInterval)

	orch := orchestrate.NewOrchestrator(appCfg, store, true, log.WithField("component", "build"))
	scheduler := watch.NewScheduler(orch, keys, interval, log.WithField("component", "watch"))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		sig := <-sigChan
		log.Warnf("Received signal %v, stopping watch...", sig)
		scheduler.Stop()
	}()

	// Blocks until stopped
	if err := scheduler.Run(ctx); err != nil {
		log.Errorf("Watch scheduler error: %v", err)
		return
	}

	status := scheduler.Status()
	log.Infof("Watch mode stopped after %d runs", status.Runs)
}
