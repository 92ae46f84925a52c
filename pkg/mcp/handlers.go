package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"doc-toc/pkg/config"
	"doc-toc/pkg/models"
	"doc-toc/pkg/orchestrate"
	"doc-toc/pkg/render"
	"doc-toc/pkg/utils"
)

// handleGenerateTOC handles the generate_toc tool
func (s *Server) handleGenerateTOC(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := request.GetString("content", "")
	if strings.TrimSpace(content) == "" {
		return mcp.NewToolResultError("content parameter is required"), nil
	}

	insert := request.GetBool("insert_container", true)
	docCfg := config.DocumentConfig{
		Source:            "inline",
		Kind:              request.GetString("source_format", "html"),
		ContainerSelector: request.GetString("container_selector", ""),
		BodySelector:      request.GetString("body_selector", ""),
		HeadingPolicy:     request.GetString("heading_policy", ""),
		InsertContainer:   &insert,
	}
	if _, err := docCfg.Validate(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	startTime := time.Now()
	res, err := s.generator.Generate(ctx, docCfg, []byte(content))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to generate TOC (%s): %v", utils.CategorizeError(err), err)), nil
	}

	result := map[string]interface{}{
		"title":         res.Title,
		"sections":      res.Outline.Count(),
		"outline":       res.Outline.Entries,
		"toc_html":      res.TOCHTML,
		"html":          res.HTML,
		"build_time_ms": time.Since(startTime).Milliseconds(),
	}
	if res.Tokens > 0 {
		result["tokens"] = res.Tokens
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetOutline handles the get_outline tool
func (s *Server) handleGetOutline(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source := request.GetString("source", "")
	if source == "" {
		return mcp.NewToolResultError("source parameter is required"), nil
	}
	format, err := render.ParseFormat(request.GetString("format", "json"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	docCfg, ok := s.cfg.AppConfig.Documents[source]
	if !ok {
		docCfg = config.DocumentConfig{Source: source}
		// Local paths are only reachable through configured documents
		if !docCfg.IsRemote() {
			return mcp.NewToolResultError(fmt.Sprintf("source '%s' is neither a configured document nor an http(s) URL. Available documents: %v",
				source, orchestrate.GetAllDocumentKeys(s.cfg.AppConfig))), nil
		}
	}

	src, err := s.generator.ReadSource(ctx, docCfg)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read source: %v", err)), nil
	}
	res, err := s.generator.Generate(ctx, docCfg, src)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to generate TOC (%s): %v", utils.CategorizeError(err), err)), nil
	}

	out, err := render.Outline(format, res.Title, res.Outline, res.TOCHTML)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to render outline: %v", err)), nil
	}
	return mcp.NewToolResultText(out), nil
}

// handleListDocuments handles the list_documents tool
func (s *Server) handleListDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys := orchestrate.GetAllDocumentKeys(s.cfg.AppConfig)
	docs := make([]map[string]interface{}, 0, len(keys))

	for _, key := range keys {
		docCfg := s.cfg.AppConfig.Documents[key]
		docInfo := map[string]interface{}{
			"key":         key,
			"source":      docCfg.Source,
			"kind":        config.GetEffectiveKind(docCfg),
			"remote":      docCfg.IsRemote(),
			"output_path": filepath.Join(s.cfg.AppConfig.OutputBaseDir, config.GetEffectiveOutputFilename(key, docCfg)),
		}
		if docCfg.Title != "" {
			docInfo["title"] = docCfg.Title
		}

		if s.cfg.Store != nil {
			status, entry, err := s.cfg.Store.CheckDocumentStatus(key)
			switch {
			case err != nil:
				docInfo["status"] = models.DocumentStatusDBError
			case entry != nil:
				docInfo["status"] = status
				docInfo["sections"] = entry.SectionCount
				if !entry.ProcessedAt.IsZero() {
					docInfo["last_built"] = entry.ProcessedAt.Format(time.RFC3339)
				}
				if entry.ErrorType != "" {
					docInfo["error_type"] = entry.ErrorType
				}
			default:
				docInfo["status"] = status
			}
		}

		if s.jobManager.IsRunning(key) {
			docInfo["status"] = "running"
		}

		docs = append(docs, docInfo)
	}

	result := map[string]interface{}{
		"documents":       docs,
		"config_path":     s.cfg.ConfigPath,
		"total_documents": len(docs),
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleBuildDocuments handles the build_documents tool
func (s *Server) handleBuildDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs := request.GetStringSlice("documents", nil)
	if len(docs) == 0 {
		docs = orchestrate.GetAllDocumentKeys(s.cfg.AppConfig)
	}
	if len(docs) == 0 {
		return mcp.NewToolResultError("no documents configured"), nil
	}
	if err := orchestrate.ValidateDocumentKeys(s.cfg.AppConfig, docs); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	incremental := request.GetBool("incremental", s.cfg.AppConfig.EnableIncremental)

	job, created, err := s.jobManager.CreateJob(docs, incremental)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create job: %v", err)), nil
	}
	if !created {
		result := map[string]interface{}{
			"status":    "already_running",
			"message":   "A build is already in progress for these documents",
			"job_id":    job.ID,
			"documents": job.Documents,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	s.jobs.Add(1)
	go s.runBuildJob(job)

	result := map[string]interface{}{
		"status":      "started",
		"message":     "Build started successfully",
		"job_id":      job.ID,
		"documents":   job.Documents,
		"incremental": incremental && s.cfg.Store != nil,
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":      job.ID,
		"documents":   job.Documents,
		"status":      job.Status,
		"started_at":  job.StartedAt.Format(time.RFC3339),
		"built":       job.Built,
		"skipped":     job.Skipped,
		"failed":      len(job.FailedDocuments),
		"incremental": job.Incremental,
	}

	if len(job.FailedDocuments) > 0 {
		result["failed_documents"] = job.FailedDocuments
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	if s.jobManager.GetJob(jobID) == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":    jobID,
		"cancelled": s.jobManager.CancelJob(jobID),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListJobs handles the list_jobs tool
func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	activeOnly := request.GetBool("active_only", false)

	jobs := make([]map[string]interface{}, 0)
	for _, job := range s.jobManager.ListJobs() {
		if activeOnly && !job.Status.active() {
			continue
		}
		info := map[string]interface{}{
			"job_id":     job.ID,
			"documents":  job.Documents,
			"status":     job.Status,
			"started_at": job.StartedAt.Format(time.RFC3339),
		}
		if !job.CompletedAt.IsZero() {
			info["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		}
		jobs = append(jobs, info)
	}

	result := map[string]interface{}{
		"jobs":       jobs,
		"total_jobs": len(jobs),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// runBuildJob runs a build job in the background
func (s *Server) runBuildJob(job *Job) {
	defer s.jobs.Done()
	s.jobManager.UpdateStatus(job.ID, JobStatusRunning, "")

	jobCtx := s.jobManager.GetContext(job.ID)
	jobLog := s.log.WithField("job_id", job.ID)

	orch := orchestrate.NewOrchestrator(s.cfg.AppConfig, s.cfg.Store, job.Incremental, jobLog)
	results, err := orch.Run(jobCtx, job.Documents)

	built, skipped := 0, 0
	for _, r := range results {
		switch {
		case r.Error != nil:
		case r.Skipped:
			skipped++
		default:
			built++
		}
	}
	failed := orchestrate.Failed(results)
	s.jobManager.UpdateProgress(job.ID, built, skipped, failed)

	switch {
	case errors.Is(err, context.Canceled):
		s.jobManager.UpdateStatus(job.ID, JobStatusCancelled, "")
	case err != nil:
		s.jobManager.UpdateStatus(job.ID, JobStatusFailed, err.Error())
	case len(failed) > 0:
		s.jobManager.UpdateStatus(job.ID, JobStatusCompleted, fmt.Sprintf("%d of %d documents failed", len(failed), len(results)))
	default:
		s.jobManager.UpdateStatus(job.ID, JobStatusCompleted, "")
	}
	jobLog.Infof("Build job finished: %d built, %d skipped, %d failed", built, skipped, len(failed))
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
