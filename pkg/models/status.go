package models

// DocumentStatus represents the processing status of a document in the state database
type DocumentStatus string

const (
	DocumentStatusUnset    DocumentStatus = ""          // Zero value = unset/unknown
	DocumentStatusPending  DocumentStatus = "pending"   // Build started but not recorded
	DocumentStatusSuccess  DocumentStatus = "success"   // TOC generated and output written
	DocumentStatusFailure  DocumentStatus = "failure"   // Build failed
	DocumentStatusNotFound DocumentStatus = "not_found" // Document not in database
	DocumentStatusDBError  DocumentStatus = "db_error"  // Database error occurred
)

// String implements fmt.Stringer for logging
func (s DocumentStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s DocumentStatus) IsValid() bool {
	switch s {
	case DocumentStatusPending, DocumentStatusSuccess, DocumentStatusFailure:
		return true
	}
	return false
}
