package ir

// Version constants for the storage schema and service.
const (
	// SchemaVersion is the storage schema version (PRAGMA user_version).
	SchemaVersion = 1

	// ServiceVersion is the cfgsync service version.
	ServiceVersion = "0.1.0"
)
