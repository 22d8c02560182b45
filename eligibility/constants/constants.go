// Package constants holds shared tunables and fixed sets used across the
// ingestion pipeline and the query engine.
package constants

const (
	// Batch sizes for the pipeline stages.
	IngestBatchSize    = 1000
	TransformBatchSize = 1000
	PersistBatchSize   = 1000

	// ReviewThreshold is the maximum acceptable success rate at or below
	// which a completed file is quarantined for manual review.
	ReviewThreshold = 0.95

	// ReviewThresholdPreviousFile is the minimum ratio of the current file's
	// success count to the previous file's success count.
	ReviewThresholdPreviousFile = 0.90

	// FileCacheNamespace prefixes all per-file counter keys.
	FileCacheNamespace = "file"

	FileCountCacheKey        = "num_rows"
	FileCountSuccessCacheKey = "num_success"
	FileCountErrorCacheKey   = "num_error"

	// DefaultEncoding is assumed when detection yields nothing.
	DefaultEncoding = "utf-8"

	// ExternalIDCacheTTLSeconds bounds the hot-path external-id lookups.
	ExternalIDCacheTTLSeconds = 1800
	ExternalIDCacheMaxSize    = 1024

	// RowCountCacheTTLSeconds bounds the per-file row count lookups in the
	// persist stage.
	RowCountCacheTTLSeconds = 1800
	RowCountCacheMaxSize    = 5000

	// BulkFileActionConcurrency bounds operator-initiated bulk file actions.
	BulkFileActionConcurrency = 10

	// IngestMessageTimeout and PersistBatchTimeout are the per-message and
	// per-batch visibility windows on the bus, in seconds.
	IngestMessageTimeoutSeconds = 600
	PersistBatchTimeoutSeconds  = 30
)

// OrganizationsNotSendingDOB is the set of organizations known to omit
// date_of_birth from their census files. Rows from these organizations skip
// DOB validation and are verified against an alternate PII key set.
var OrganizationsNotSendingDOB = map[int64]struct{}{
	484:  {},
	601:  {},
	620:  {},
	685:  {},
	686:  {},
	696:  {},
	2031: {},
	2049: {},
	2475: {},
}

// IsOrganizationNotSendingDOB reports whether the organization is exempt from
// date-of-birth validation.
func IsOrganizationNotSendingDOB(organizationID int64) bool {
	_, ok := OrganizationsNotSendingDOB[organizationID]
	return ok
}
