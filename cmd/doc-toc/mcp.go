package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"doc-toc/pkg/mcp"
	"doc-toc/pkg/storage"
)

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	transport := fs.String("transport", "stdio", "Transport type (stdio, sse)")
	port := fs.Int("port", 8080, "HTTP port (for sse transport)")
	noState := fs.Bool("no-state", false, "Do not open the state DB (disables incremental builds and stored status)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: doc-toc mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport (for Claude Desktop)
  doc-toc mcp-server -config config.yaml

  # Start with SSE transport on port 8080
  doc-toc mcp-server -config config.yaml -transport sse -port 8080

Available MCP Tools:
  generate_toc     Number the headings of an HTML or Markdown string
  get_outline      Outline of a configured document or URL
  list_documents   List configured documents and their build state
  build_documents  Start a background build
  get_job_status   Check a build job
  cancel_job       Cancel a build job
  list_jobs        List build jobs, newest first
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doMcpServer(*configFile, *transport, *port, *noState, *logLevel, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doMcpServer is the testable implementation of the MCP server
func doMcpServer(configPath, transport string, port int, noState bool, logLevel string, stdout, stderr io.Writer) int {
	if transport != "stdio" && transport != "sse" {
		fmt.Fprintf(stderr, "Unknown transport: %s (supported: stdio, sse)\n", transport)
		return 1
	}

	// MCP protocol uses stdout, logs go to stderr
	log := setupLogger(logLevel, stderr)

	appCfg, err := loadAndValidateConfig(configPath, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}

	serverCfg := &mcp.ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: configPath,
		Transport:  transport,
		Port:       port,
		Logger:     log,
	}

	if !noState {
		store, err := storage.NewBadgerStore(appCfg.StateDir, false, log.WithField("component", "storage"))
		if err != nil {
			fmt.Fprintf(stderr, "Error opening state DB: %v\n", err)
			return 1
		}
		defer store.Close()

		gcCtx, stopGC := context.WithCancel(context.Background())
		defer stopGC()
		go store.RunGC(gcCtx, dbGCInterval)
		serverCfg.Store = store
	}

	server, err := mcp.NewServer(serverCfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig := <-sigChan
		log.Warnf("Received signal %v, shutting down MCP server...", sig)
		shutdown(server, log)
	}()

	log.Infof("Starting MCP server (transport: %s)", transport)
	runErr := server.Run()

	// Stop background builds before the state DB closes
	shutdown(server, log)

	if runErr != nil {
		fmt.Fprintf(stderr, "MCP server error: %v\n", runErr)
		return 1
	}
	return 0
}

// shutdown cancels running build jobs and stops the SSE listener
func shutdown(server *mcp.Server, log *logrus.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("MCP server shutdown error: %v", err)
	}
}
