package config

const (
	// MaxTitleLength is the maximum length for document and version
	// titles. Limited to 255 to fit in PostgreSQL VARCHAR(255).
	MaxTitleLength = 255

	// MaxVersionPageSize caps a single version-history page. Larger
	// requests are clamped, not rejected.
	MaxVersionPageSize = 100

	// DefaultVersionPageSize is used when the caller does not ask for a
	// specific page size.
	DefaultVersionPageSize = 20
)
