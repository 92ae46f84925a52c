package models

import "time"

// SourceKind tells the loader how to parse a document source
type SourceKind string

const (
	SourceHTML     SourceKind = "html"
	SourceMarkdown SourceKind = "markdown"
)

// DocumentDBEntry stores the result of building a document's TOC in the database
type DocumentDBEntry struct {
	Status       DocumentStatus `json:"status"`
	Source       string         `json:"source,omitempty"`
	ContentHash  string         `json:"content_hash,omitempty"` // SHA-256 of the source at the last successful build
	OutputPath   string         `json:"output_path,omitempty"`
	SectionCount int            `json:"section_count,omitempty"`
	ErrorType    string         `json:"error_type,omitempty"`   // Error category (on failure)
	ProcessedAt  time.Time      `json:"processed_at,omitempty"` // Timestamp of successful processing
	LastAttempt  time.Time      `json:"last_attempt"`
}

// RunMetadata summarises one build run over the configured documents.
type RunMetadata struct {
	RunID            string             `yaml:"run_id"`
	StartTime        time.Time          `yaml:"start_time"`
	EndTime          time.Time          `yaml:"end_time"`
	Incremental      bool               `yaml:"incremental"`
	DocumentsBuilt   int                `yaml:"documents_built"`
	DocumentsSkipped int                `yaml:"documents_skipped"`
	DocumentsFailed  int                `yaml:"documents_failed"`
	Documents        []DocumentMetadata `yaml:"documents"`
}

// DocumentMetadata holds metadata for a single document of a run.
type DocumentMetadata struct {
	Key         string    `yaml:"key"`
	Source      string    `yaml:"source"`
	OutputPath  string    `yaml:"output_path,omitempty"`
	Title       string    `yaml:"title,omitempty"`
	Sections    int       `yaml:"sections"`
	Tokens      int       `yaml:"tokens,omitempty"`
	ContentHash string    `yaml:"content_hash,omitempty"`
	Skipped     bool      `yaml:"skipped,omitempty"`
	Error       string    `yaml:"error,omitempty"`
	ProcessedAt time.Time `yaml:"processed_at"`
}
