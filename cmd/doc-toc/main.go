package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"doc-toc/pkg/config"
	applog "doc-toc/pkg/log"
	"doc-toc/pkg/orchestrate"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "generate":
		runGenerate(os.Args[2:])
	case "outline":
		runOutline(os.Args[2:])
	case "build":
		runBuild(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-docs":
		runListDocs(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("doc-toc %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `doc-toc - Numbered table of contents generator for HTML and Markdown documents

Usage:
  doc-toc <command> [options]

Commands:
  generate    Number the headings of one file or URL and fill its TOC
  outline     Print the numbered outline of one file or URL
  build       Build configured documents
  watch       Rebuild configured documents on a schedule
  validate    Validate configuration file
  list-docs   List configured documents
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Run 'doc-toc <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// loadAndValidateConfig loads the config file, applies defaults and logs warnings.
// An empty path yields the built-in defaults.
func loadAndValidateConfig(configFile string, log *logrus.Logger) (*config.AppConfig, error) {
	appCfg := &config.AppConfig{}
	if configFile != "" {
		log.Infof("Loading configuration from %s", configFile)
		var err error
		if appCfg, err = loadConfig(configFile); err != nil {
			return nil, err
		}
	}

	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	return appCfg, nil
}

// validateDocumentConfigs validates the configuration for each document key and logs warnings.
func validateDocumentConfigs(appCfg *config.AppConfig, keys []string, log *logrus.Logger) error {
	for _, key := range keys {
		docCfg := appCfg.Documents[key]
		docWarnings, err := docCfg.Validate()
		if err != nil {
			return fmt.Errorf("document '%s' configuration error: %w", key, err)
		}
		for _, w := range docWarnings {
			log.Warnf("[%s] %s", key, w)
		}
		appCfg.Documents[key] = docCfg
	}
	return nil
}

// selectDocuments resolves the -doc, -docs and --all-docs flags into a key list.
// Returns nil keys with no error when allDocs is set; the caller fills them from the config.
func selectDocuments(docKey, docs string, allDocs bool) ([]string, error) {
	switch {
	case allDocs:
		return nil, nil
	case docs != "":
		var keys []string
		for _, k := range strings.Split(docs, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("-docs lists no document keys")
		}
		return keys, nil
	case docKey != "":
		return []string{docKey}, nil
	}
	return nil, fmt.Errorf("one of -doc, -docs, or --all-docs is required")
}

// setupLogger creates the application logger. Logs go to stderr so stdout stays clean for output.
func setupLogger(logLevelStr string, out io.Writer) *logrus.Logger {
	return applog.New(logLevelStr, out)
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	docKey := fs.String("doc", "", "Document key to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: doc-toc validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doValidate(*configFile, *docKey, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, docKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	if docKey != "" {
		docCfg, ok := appCfg.Documents[docKey]
		if !ok {
			fmt.Fprintf(stderr, "Error: document '%s' not found in config\n", docKey)
			return 1
		}
		docWarnings, err := docCfg.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", docKey, err)
			return 1
		}
		for _, w := range docWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", docKey, w)
		}
		fmt.Fprintf(stdout, "OK: Document '%s' configuration is valid\n", docKey)
	} else {
		hasError := false
		for _, key := range orchestrate.GetAllDocumentKeys(appCfg) {
			docCfg := appCfg.Documents[key]
			docWarnings, err := docCfg.Validate()
			if err != nil {
				fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
				hasError = true
				continue
			}
			for _, w := range docWarnings {
				fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
			}
			fmt.Fprintf(stdout, "OK: [%s]\n", key)
		}
		if hasError {
			return 1
		}
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListDocs handles the list-docs subcommand
func runListDocs(args []string) {
	fs := flag.NewFlagSet("list-docs", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: doc-toc list-docs [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doListDocs(*configFile, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doListDocs lists documents and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListDocs(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Documents in %s:\n\n", configPath)
	for _, key := range orchestrate.GetAllDocumentKeys(appCfg) {
		doc := appCfg.Documents[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		if doc.Title != "" {
			fmt.Fprintf(stdout, "    Title: %s\n", doc.Title)
		}
		fmt.Fprintf(stdout, "    Source: %s\n", doc.Source)
		fmt.Fprintf(stdout, "    Kind: %s\n", config.GetEffectiveKind(doc))
		fmt.Fprintf(stdout, "    Output: %s\n", config.GetEffectiveOutputFilename(key, doc))
		fmt.Fprintln(stdout)
	}
	return 0
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: Workers:%d, StateDir:%s, OutputDir:%s",
		appCfg.NumWorkers, appCfg.StateDir, appCfg.OutputBaseDir)
	log.Infof("Global Config TOC: Container:'%s', Body:'%s', Insert:%t, Policy:%s, IDPrefix:'%s'",
		config.GetEffectiveContainerSelector(config.DocumentConfig{}, *appCfg),
		config.GetEffectiveBodySelector(config.DocumentConfig{}, *appCfg),
		config.GetEffectiveInsertContainer(config.DocumentConfig{}, *appCfg),
		config.GetEffectiveHeadingPolicy(config.DocumentConfig{}, *appCfg),
		config.GetEffectiveIDPrefix(config.DocumentConfig{}, *appCfg))
	log.Infof("Global Config Remote: DefaultDelay:%v, Robots:%t, Retries:%d, InitialDelay:%v, MaxDelay:%v",
		appCfg.DefaultDelayPerHost, appCfg.RespectRobots, appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay)
	log.Infof("Global Config Timeouts: GlobalBuild:%v, PerDocument:%v",
		appCfg.GlobalBuildTimeout, appCfg.PerDocumentTimeout)
	log.Infof("Global Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
	log.Infof("Global Config Outputs: MarkdownOutline:%t, TokenCounts:%t (%s), MetadataYAML:%t ('%s')",
		appCfg.WriteMarkdownOutline, appCfg.EnableTokenCounts, appCfg.TokenizerEncoding,
		appCfg.EnableMetadataYAML, config.GetEffectiveMetadataYAMLFilename(*appCfg))
}
