package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"doc-toc/pkg/config"
	"doc-toc/pkg/orchestrate"
	"doc-toc/pkg/storage"
)

const (
	serverName    = "doc-toc"
	serverVersion = "1.0.0"
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Store      storage.StateStore // Optional; enables incremental builds and stored state in list_documents
	Transport  string             // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger
}

// Server wraps the MCP server with TOC generation tools
type Server struct {
	mcpServer  *server.MCPServer
	cfg        *ServerConfig
	log        *logrus.Entry
	jobManager *JobManager
	generator  *orchestrate.Orchestrator // Stateless; used by generate_toc and get_outline

	mu        sync.Mutex
	sseServer *server.SSEServer
	jobs      sync.WaitGroup
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	log := cfg.Logger.WithField("component", "mcp")
	s := &Server{
		mcpServer:  mcpServer,
		cfg:        cfg,
		log:        log,
		jobManager: NewJobManager(),
		generator:  orchestrate.NewOrchestrator(cfg.AppConfig, nil, false, log),
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	generateTool := mcp.NewTool("generate_toc",
		mcp.WithDescription("Number the h2/h3/h4 headings of an HTML or Markdown document and fill its table of contents. Returns the rewritten HTML and the outline."),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Document source"),
		),
		mcp.WithString("source_format",
			mcp.Description("Format of content (default: html)"),
			mcp.Enum("html", "markdown"),
		),
		mcp.WithString("container_selector",
			mcp.Description("CSS selector of the element that receives the TOC list (default '#toc')"),
		),
		mcp.WithString("body_selector",
			mcp.Description("CSS selector of the element whose direct children are scanned (default 'body')"),
		),
		mcp.WithString("heading_policy",
			mcp.Description("How skipped heading levels are handled (default: strict)"),
			mcp.Enum("strict", "lenient"),
		),
		mcp.WithBoolean("insert_container",
			mcp.Description("Create the TOC container when the document has none (default: true)"),
			mcp.DefaultBool(true),
		),
	)
	s.mcpServer.AddTool(generateTool, s.handleGenerateTOC)

	outlineTool := mcp.NewTool("get_outline",
		mcp.WithDescription("Build the numbered outline of a configured document or a remote URL without writing any files"),
		mcp.WithString("source",
			mcp.Required(),
			mcp.Description("Document key from the config file, or an http(s) URL"),
		),
		mcp.WithString("format",
			mcp.Description("Output format (default: json)"),
			mcp.Enum("json", "yaml", "text", "markdown", "html"),
		),
	)
	s.mcpServer.AddTool(outlineTool, s.handleGetOutline)

	listDocumentsTool := mcp.NewTool("list_documents",
		mcp.WithDescription("List all configured documents with their last build state"),
	)
	s.mcpServer.AddTool(listDocumentsTool, s.handleListDocuments)

	buildTool := mcp.NewTool("build_documents",
		mcp.WithDescription("Start a background build of configured documents. Returns immediately with a job ID."),
		mcp.WithArray("documents",
			mcp.Description("Document keys to build (default: all configured documents)"),
			mcp.WithStringItems(),
		),
		mcp.WithBoolean("incremental",
			mcp.Description("Skip documents whose source is unchanged since the last successful build"),
		),
	)
	s.mcpServer.AddTool(buildTool, s.handleBuildDocuments)

	getJobStatusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status of a build job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by build_documents"),
		),
	)
	s.mcpServer.AddTool(getJobStatusTool, s.handleGetJobStatus)

	cancelJobTool := mcp.NewTool("cancel_job",
		mcp.WithDescription("Cancel a running build job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by build_documents"),
		),
	)
	s.mcpServer.AddTool(cancelJobTool, s.handleCancelJob)

	listJobsTool := mcp.NewTool("list_jobs",
		mcp.WithDescription("List build jobs started by this server, newest first"),
		mcp.WithBoolean("active_only",
			mcp.Description("Only list pending or running jobs (default: false)"),
		),
	)
	s.mcpServer.AddTool(listJobsTool, s.handleListJobs)

	s.log.Infof("Registered %d MCP tools", len(s.mcpServer.ListTools()))
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio", "":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		s.mu.Lock()
		s.sseServer = sseServer
		s.mu.Unlock()
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs, waits for them to stop and closes the SSE listener if one is running
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobManager.CancelAll()

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("Timed out waiting for build jobs to stop")
	}

	s.mu.Lock()
	sseServer := s.sseServer
	s.mu.Unlock()
	if sseServer != nil {
		return sseServer.Shutdown(ctx)
	}
	return nil
}
