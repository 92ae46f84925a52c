package config

import (
	"path/filepath"
	"strings"
	"time"

	"doc-toc/pkg/models"
	"doc-toc/pkg/utils"
)

// DocumentConfig holds configuration specific to a single document
type DocumentConfig struct {
	Source               string        `yaml:"source"`          // Local path or http(s) URL
	Kind                 string        `yaml:"kind,omitempty"`  // "html" or "markdown"; inferred from the source extension when empty
	Title                string        `yaml:"title,omitempty"` // Display name for list-docs and metadata
	ContainerSelector    string        `yaml:"container_selector,omitempty"`
	BodySelector         string        `yaml:"body_selector,omitempty"`
	InsertContainer      *bool         `yaml:"insert_container,omitempty"`
	HeadingPolicy        string        `yaml:"heading_policy,omitempty"`
	IDPrefix             string        `yaml:"id_prefix,omitempty"`
	OutputFilename       string        `yaml:"output_filename,omitempty"`
	WriteMarkdownOutline *bool         `yaml:"write_markdown_outline,omitempty"`
	UserAgent            string        `yaml:"user_agent,omitempty"`
	DelayPerHost         time.Duration `yaml:"delay_per_host,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	ContainerSelector    string                    `yaml:"container_selector,omitempty"`
	BodySelector         string                    `yaml:"body_selector,omitempty"`
	InsertContainer      *bool                     `yaml:"insert_container,omitempty"` // Defaults to true
	HeadingPolicy        string                    `yaml:"heading_policy,omitempty"`   // strict | lenient
	IDPrefix             string                    `yaml:"id_prefix,omitempty"`
	StripPermalinks      bool                      `yaml:"strip_permalinks,omitempty"` // Drop Sphinx-style ¶ anchors from headings
	OutputBaseDir        string                    `yaml:"output_base_dir"`
	StateDir             string                    `yaml:"state_dir"`
	NumWorkers           int                       `yaml:"num_workers"`
	EnableIncremental    bool                      `yaml:"enable_incremental,omitempty"`
	EnableTokenCounts    bool                      `yaml:"enable_token_counts,omitempty"`
	TokenizerEncoding    string                    `yaml:"tokenizer_encoding,omitempty"`
	WriteMarkdownOutline bool                      `yaml:"write_markdown_outline,omitempty"`
	EnableMetadataYAML   bool                      `yaml:"enable_metadata_yaml,omitempty"`
	MetadataYAMLFilename string                    `yaml:"metadata_yaml_filename,omitempty"`
	RespectRobots        bool                      `yaml:"respect_robots,omitempty"`
	DefaultUserAgent     string                    `yaml:"default_user_agent"`
	DefaultDelayPerHost  time.Duration             `yaml:"default_delay_per_host"`
	MaxRequestsPerHost   int                       `yaml:"max_requests_per_host,omitempty"` // Concurrent fetches per host for remote sources
	MaxRetries           int                       `yaml:"max_retries,omitempty"`
	InitialRetryDelay    time.Duration             `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay        time.Duration             `yaml:"max_retry_delay,omitempty"`
	MaxDocumentSizeBytes int64                     `yaml:"max_document_size_bytes,omitempty"`
	GlobalBuildTimeout   time.Duration             `yaml:"global_build_timeout,omitempty"`
	PerDocumentTimeout   time.Duration             `yaml:"per_document_timeout,omitempty"` // Timeout for processing a single document (0 = no timeout)
	HTTPClientSettings   HTTPClientConfig          `yaml:"http_client_settings,omitempty"`
	Documents            map[string]DocumentConfig `yaml:"documents"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// IsRemote reports whether the document source is an http(s) URL
func (d DocumentConfig) IsRemote() bool {
	return strings.HasPrefix(d.Source, "http://") || strings.HasPrefix(d.Source, "https://")
}

// GetEffectiveKind resolves the source kind, falling back to the source extension
func GetEffectiveKind(docCfg DocumentConfig) models.SourceKind {
	switch strings.ToLower(docCfg.Kind) {
	case "markdown", "md":
		return models.SourceMarkdown
	case "html", "htm":
		return models.SourceHTML
	}
	return KindFromPath(docCfg.Source)
}

// KindFromPath guesses the source kind from a file path or URL path
func KindFromPath(p string) models.SourceKind {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	switch strings.ToLower(filepath.Ext(p)) {
	case ".md", ".markdown", ".mdown":
		return models.SourceMarkdown
	}
	return models.SourceHTML
}

// GetEffectiveContainerSelector determines the selector for the TOC container
func GetEffectiveContainerSelector(docCfg DocumentConfig, appCfg AppConfig) string {
	if docCfg.ContainerSelector != "" {
		return docCfg.ContainerSelector
	}
	if appCfg.ContainerSelector != "" {
		return appCfg.ContainerSelector
	}
	return "#toc"
}

// GetEffectiveBodySelector determines the selector for the element whose children are scanned
func GetEffectiveBodySelector(docCfg DocumentConfig, appCfg AppConfig) string {
	if docCfg.BodySelector != "" {
		return docCfg.BodySelector
	}
	if appCfg.BodySelector != "" {
		return appCfg.BodySelector
	}
	return "body"
}

// GetEffectiveInsertContainer determines if a missing container is created.
// Unset at both levels means true, matching generate and the MCP tools.
func GetEffectiveInsertContainer(docCfg DocumentConfig, appCfg AppConfig) bool {
	if docCfg.InsertContainer != nil {
		return *docCfg.InsertContainer
	}
	if appCfg.InsertContainer != nil {
		return *appCfg.InsertContainer
	}
	return true
}

// GetEffectiveHeadingPolicy determines the heading policy name
func GetEffectiveHeadingPolicy(docCfg DocumentConfig, appCfg AppConfig) string {
	if docCfg.HeadingPolicy != "" {
		return docCfg.HeadingPolicy
	}
	if appCfg.HeadingPolicy != "" {
		return appCfg.HeadingPolicy
	}
	return "strict"
}

// GetEffectiveIDPrefix determines the heading id prefix
func GetEffectiveIDPrefix(docCfg DocumentConfig, appCfg AppConfig) string {
	if docCfg.IDPrefix != "" {
		return docCfg.IDPrefix
	}
	if appCfg.IDPrefix != "" {
		return appCfg.IDPrefix
	}
	return "section"
}

// GetEffectiveOutputFilename determines the HTML output file name for a document key
func GetEffectiveOutputFilename(docKey string, docCfg DocumentConfig) string {
	if docCfg.OutputFilename != "" {
		return docCfg.OutputFilename
	}
	return utils.OutputFilename(docKey, ".html")
}

// GetEffectiveWriteMarkdownOutline determines if a Markdown outline file is written next to the HTML
func GetEffectiveWriteMarkdownOutline(docCfg DocumentConfig, appCfg AppConfig) bool {
	if docCfg.WriteMarkdownOutline != nil {
		return *docCfg.WriteMarkdownOutline
	}
	return appCfg.WriteMarkdownOutline
}

// GetEffectiveUserAgent determines the User-Agent for remote sources
func GetEffectiveUserAgent(docCfg DocumentConfig, appCfg AppConfig) string {
	if docCfg.UserAgent != "" {
		return docCfg.UserAgent
	}
	return appCfg.DefaultUserAgent
}

// GetEffectiveDelayPerHost determines the politeness delay for remote sources
func GetEffectiveDelayPerHost(docCfg DocumentConfig, appCfg AppConfig) time.Duration {
	if docCfg.DelayPerHost > 0 {
		return docCfg.DelayPerHost
	}
	return appCfg.DefaultDelayPerHost
}

// GetEffectiveMetadataYAMLFilename determines the filename for the YAML run metadata.
func GetEffectiveMetadataYAMLFilename(appCfg AppConfig) string {
	if appCfg.MetadataYAMLFilename != "" {
		return appCfg.MetadataYAMLFilename
	}
	return "toc_metadata.yaml"
}
