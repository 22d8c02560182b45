// Package models defines the domain entities shared by the ingestion
// pipeline, the persistence layer, and the eligibility query engine.
package models

import (
	"time"
)

// FileError enumerates the terminal file-level failure states.
type FileError string

const (
	FileErrorNone      FileError = ""
	FileErrorMissing   FileError = "missing"
	FileErrorDelimiter FileError = "delimiter"
	FileErrorUnknown   FileError = "unknown"
)

// File represents a single census upload.
type File struct {
	ID             int64
	OrganizationID int64
	Name           string
	Encoding       string
	Error          FileError
	StartedAt      *time.Time
	CompletedAt    *time.Time
	RawCount       int
	SuccessCount   int
	FailureCount   int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Configuration is the identity of a client paying for benefits.
type Configuration struct {
	OrganizationID  int64
	DirectoryName   string
	EmailDomains    []string
	DataProvider    bool
	ActivatedAt     *time.Time
	TerminatedAt    *time.Time
	EligibilityType string
}

// ActiveAt reports whether the organization is active at the given instant.
func (c Configuration) ActiveAt(t time.Time) bool {
	if c.ActivatedAt == nil || c.ActivatedAt.After(t) {
		return false
	}
	if c.TerminatedAt != nil && !c.TerminatedAt.After(t) {
		return false
	}
	return true
}

// ExternalOrgInfo is the resolution of an external (source, external_id) pair
// to a real organization.
type ExternalOrgInfo struct {
	OrganizationID int64
	ExternalID     string
	Source         string
	ActivatedAt    *time.Time
}

// DateRange is a date interval with optionally open bounds. A nil Upper means
// the range is open-ended.
type DateRange struct {
	Lower *time.Time
	Upper *time.Time
}

// Contains reports whether t falls within the range, treating nil bounds as
// unbounded. Both bounds are inclusive.
func (r *DateRange) Contains(t time.Time) bool {
	if r == nil {
		return false
	}
	if r.Lower != nil && t.Before(*r.Lower) {
		return false
	}
	if r.Upper != nil && t.After(*r.Upper) {
		return false
	}
	return true
}

// Address is the postal address attached to a streamed member record.
type Address struct {
	Address1         string
	Address2         string
	City             string
	State            string
	PostalCode       string
	PostalCodeSuffix string
	CountryCode      string
}

// ParsedRecord is the output of parsing a single census row: the canonical
// member fields plus the raw-and-derived record blob, parse annotations, and
// the change-detection hash.
type ParsedRecord struct {
	FileID                     int64
	OrganizationID             int64
	DataProviderOrganizationID int64

	FirstName          string
	LastName           string
	Email              string
	UniqueCorpID       string
	DependentID        string
	DateOfBirth        time.Time
	State              string
	WorkState          string
	Country            string
	EffectiveRange     *DateRange
	DoNotContact       string
	GenderCode         string
	EmployerAssignedID string

	Record           map[string]interface{}
	CustomAttributes map[string]interface{}

	HashValue   string
	HashVersion int

	Errors   []string
	Warnings []string
}

// Valid reports whether the record parsed without errors.
func (p *ParsedRecord) Valid() bool {
	return len(p.Errors) == 0
}

// ParsedBatch is one bin of parser output, split by validity.
type ParsedBatch struct {
	Valid  []*ParsedRecord
	Errors []*ParsedRecord
}

// Member is a canonical member row. The same shape backs both coexisting
// member tables; Version records which table a row was read from.
type Member struct {
	ID                 int64
	Version            MemberVersion
	OrganizationID     int64
	FileID             *int64
	FirstName          string
	LastName           string
	Email              string
	UniqueCorpID       string
	DependentID        string
	DateOfBirth        time.Time
	WorkState          string
	EffectiveRange     *DateRange
	DoNotContact       string
	GenderCode         string
	EmployerAssignedID string
	Record             map[string]interface{}
	CustomAttributes   map[string]interface{}
	HashValue          string
	HashVersion        int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// MemberVersion selects between the two coexisting canonical member tables.
type MemberVersion int

const (
	MemberV1 MemberVersion = 1
	MemberV2 MemberVersion = 2
)

// ExternalRecord is a canonical member assembled from a streamed record,
// persisted directly without staging.
type ExternalRecord struct {
	OrganizationID     int64
	FirstName          string
	LastName           string
	Email              string
	UniqueCorpID       string
	DependentID        string
	DateOfBirth        time.Time
	WorkState          string
	EmployerAssignedID string
	EffectiveRange     *DateRange
	DoNotContact       string
	GenderCode         string
	ExternalID         string
	Source             string
	Record             map[string]interface{}
	CustomAttributes   map[string]interface{}
	HashValue          string
	HashVersion        int
}

// ExternalRecordAndAddress pairs a streamed record with its selected address.
type ExternalRecordAndAddress struct {
	Record  *ExternalRecord
	Address *Address
}

// IngestionType distinguishes the two upstream shapes.
type IngestionType string

const (
	IngestionTypeFile   IngestionType = "FILE"
	IngestionTypeStream IngestionType = "STREAM"
)

// Metadata travels with every pipeline message.
type Metadata struct {
	FileID           int64         `json:"file_id,omitempty"`
	OrganizationID   int64         `json:"organization_id"`
	Identifier       string        `json:"identifier"`
	Index            int           `json:"index"`
	Type             IngestionType `json:"type"`
	IngestionTS      time.Time     `json:"ingestion_ts"`
	TransformationTS *time.Time    `json:"transformation_ts,omitempty"`
	DataProvider     bool          `json:"data_provider"`
}

// UnprocessedMessage is one raw row or stream record emitted by the ingest
// stage.
type UnprocessedMessage struct {
	Metadata Metadata               `json:"metadata"`
	Record   map[string]interface{} `json:"record"`
	Extra    []string               `json:"extra,omitempty"`
}

// ProcessedMessage is the transform stage's output: a fully parsed record
// ready for staging or canonical persistence.
type ProcessedMessage struct {
	Metadata Metadata      `json:"metadata"`
	Record   *ParsedRecord `json:"record"`
	Address  *Address      `json:"address,omitempty"`
}

// ProcessedCounts summarizes a flush operation.
type ProcessedCounts struct {
	Valid   int
	Errors  int
	Missing int
}
