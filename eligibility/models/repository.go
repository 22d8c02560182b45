package models

import (
	"context"
	"time"
)

// ConfigurationRepository contains the methods needed to read organization
// configuration, header aliases, and external-id mappings.
type ConfigurationRepository interface {
	// GetConfigurationByDirectory resolves the organization owning the given
	// upload-path prefix. Returns nil when no organization is configured.
	GetConfigurationByDirectory(ctx context.Context, directory string) (*Configuration, error)

	GetConfigurationByID(ctx context.Context, organizationID int64) (*Configuration, error)

	// GetHeaderAliases returns the per-org header overrides keyed by
	// canonical field name.
	GetHeaderAliases(ctx context.Context, organizationID int64) (HeaderMapping, error)

	// GetExternalOrgInfo resolves a (source, external_id) pair. The
	// external_id may be a compound "client:customer" key; callers try the
	// compound form first, then the client id alone.
	GetExternalOrgInfo(ctx context.Context, source, externalID string) (*ExternalOrgInfo, error)

	// GetCustomAttributes returns the per-org custom-attribute key mapping
	// (client header to canonical attribute name).
	GetCustomAttributes(ctx context.Context, organizationID int64) (map[string]string, error)
}

// FileRepository contains the methods needed to manage file rows and their
// staging records.
type FileRepository interface {
	CreateFile(ctx context.Context, organizationID int64, name string) (*File, error)
	GetFile(ctx context.Context, fileID int64) (*File, error)
	SetFileStartedAt(ctx context.Context, fileID int64, at time.Time) error
	SetFileCompletedAt(ctx context.Context, fileID int64, at time.Time) error
	SetFileEncoding(ctx context.Context, fileID int64, encoding string) error
	SetFileError(ctx context.Context, fileID int64, fileError FileError) error

	// SetFileCounts records the final raw/success/failure tallies on the
	// file row at completion.
	SetFileCounts(ctx context.Context, fileID int64, raw, success, failure int) error

	// GetIncompleteFiles lists files with staging rows still pending review.
	GetIncompleteFiles(ctx context.Context) ([]*File, error)
}

// StagingRepository contains the methods needed to stage parse output and
// promote it to the canonical member table.
type StagingRepository interface {
	PersistParseResults(ctx context.Context, records []*ParsedRecord) (int64, error)
	PersistParseErrors(ctx context.Context, records []*ParsedRecord) (int64, error)
	DeleteParseResults(ctx context.Context, fileID int64) (int64, error)
	DeleteParseErrors(ctx context.Context, fileID int64) (int64, error)

	// FlushFile promotes all staging rows for the file to the canonical
	// member table, marks the file completed, and reports the promoted
	// count. The completion check runs inside the same transaction, so a
	// redelivered completion is a no-op.
	FlushFile(ctx context.Context, file *File) (int64, error)

	// ExpireMissingMembers terminates the effective range of canonical
	// members for the file's org that are absent from the file's staging
	// rows.
	ExpireMissingMembers(ctx context.Context, file *File) (int64, error)

	// GetSuccessCountFromPreviousFile returns the success count recorded on
	// the most recent completed file for the org, or 0 when none exists.
	GetSuccessCountFromPreviousFile(ctx context.Context, organizationID int64) (int64, error)
}

// MemberRepository contains the methods needed to write canonical members
// from the stream path.
type MemberRepository interface {
	// UpsertExternalRecords persists streamed records (and addresses) to the
	// canonical table. Records whose hash matches the stored row are
	// skipped.
	UpsertExternalRecords(ctx context.Context, records []*ExternalRecordAndAddress) (int64, error)
}

// MemberQuerier contains the member lookups used by the eligibility query
// engine. Every method can address either canonical member table.
type MemberQuerier interface {
	GetAllByNameAndDateOfBirth(ctx context.Context, v MemberVersion, firstName, lastName string, dateOfBirth time.Time) ([]*Member, error)
	GetAllByEmployeeNameAndDateOfBirth(ctx context.Context, v MemberVersion, firstName, lastName string, dateOfBirth time.Time) ([]*Member, error)
	GetByDOBAndEmail(ctx context.Context, v MemberVersion, dateOfBirth time.Time, email string) (*Member, error)
	GetByDependentDOBAndEmail(ctx context.Context, v MemberVersion, dateOfBirth time.Time, email string) (*Member, error)
	GetByDOBNameAndWorkState(ctx context.Context, v MemberVersion, dateOfBirth time.Time, firstName, lastName, workState string) (*Member, error)
	GetByEmailAndName(ctx context.Context, v MemberVersion, email, firstName, lastName string) (*Member, error)
	GetByEmailAndEmployeeName(ctx context.Context, v MemberVersion, email, firstName, lastName string) (*Member, error)
	GetByNameAndUniqueCorpID(ctx context.Context, v MemberVersion, firstName, lastName, uniqueCorpID string) (*Member, error)
	GetByEmployeeNameAndUniqueCorpID(ctx context.Context, v MemberVersion, firstName, lastName, uniqueCorpID string) (*Member, error)
	GetByDateOfBirthAndUniqueCorpID(ctx context.Context, v MemberVersion, dateOfBirth time.Time, uniqueCorpID string) (*Member, error)
	GetByDependentDateOfBirthAndUniqueCorpID(ctx context.Context, v MemberVersion, dateOfBirth time.Time, uniqueCorpID string) (*Member, error)
}
