package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/havenhealth/eligibility-app/eligibility/models"
)

func testRecord() *models.ParsedRecord {
	return &models.ParsedRecord{
		FileID:         10,
		OrganizationID: 42,
		FirstName:      "Jane",
		LastName:       "Doe",
		Email:          "jane@example.com",
		UniqueCorpID:   "abc123",
		DependentID:    "",
		DateOfBirth:    time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC),
		State:          "NY",
		WorkState:      "NY",
		Country:        "USA",
		GenderCode:     "F",
		Record: map[string]interface{}{
			"first_name": "Jane",
			"last_name":  "Doe",
		},
		CustomAttributes: map[string]interface{}{
			"plan": "gold",
		},
	}
}

func TestGenerateHashForFileRecordDeterministic(t *testing.T) {
	a, versionA := GenerateHashForFileRecord(testRecord())
	b, versionB := GenerateHashForFileRecord(testRecord())
	assert.Equal(t, a, b)
	assert.Equal(t, versionA, versionB)
	assert.Equal(t, HashVersion, versionA)
	assert.Contains(t, a, ",42")
}

func TestGenerateHashForFileRecordChangesWithFields(t *testing.T) {
	base, _ := GenerateHashForFileRecord(testRecord())

	changed := testRecord()
	changed.Email = "other@example.com"
	hashed, _ := GenerateHashForFileRecord(changed)
	assert.NotEqual(t, base, hashed)

	changed = testRecord()
	changed.CustomAttributes["plan"] = "silver"
	hashed, _ = GenerateHashForFileRecord(changed)
	assert.NotEqual(t, base, hashed)
}

func TestGenerateHashExcludesSystemFields(t *testing.T) {
	base, _ := GenerateHashForFileRecord(testRecord())

	changed := testRecord()
	changed.Record["file_id"] = int64(999)
	changed.Record["received_ts"] = "2024-01-01T00:00:00Z"
	changed.Record[SSNMarkerKey] = true
	changed.Record["parse_line_no"] = 7
	hashed, _ := GenerateHashForFileRecord(changed)
	assert.Equal(t, base, hashed)
}

func TestGenerateHashForExternalRecord(t *testing.T) {
	lower := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	record := &models.ExternalRecord{
		OrganizationID: 100,
		FirstName:      "John",
		LastName:       "Smith",
		UniqueCorpID:   "corp-1",
		DateOfBirth:    time.Date(1985, 2, 3, 0, 0, 0, 0, time.UTC),
		WorkState:      "TX",
		EffectiveRange: &models.DateRange{Lower: &lower},
		Record:         map[string]interface{}{"source": "optum"},
	}
	address := &models.Address{Address1: "1 Main St", City: "Austin", State: "TX", PostalCode: "78701"}

	a, version := GenerateHashForExternalRecord(record, address)
	b, _ := GenerateHashForExternalRecord(record, address)
	assert.Equal(t, a, b)
	assert.Equal(t, HashVersion, version)

	// received_ts never participates.
	record.Record["received_ts"] = "2024-06-01"
	c, _ := GenerateHashForExternalRecord(record, address)
	assert.Equal(t, a, c)

	// Address participates.
	address.City = "Dallas"
	d, _ := GenerateHashForExternalRecord(record, address)
	assert.NotEqual(t, a, d)
}

func TestDetectAndSanitizePossibleSSN(t *testing.T) {
	digest := sha256.Sum256([]byte("123-45-6789"))
	expected := hex.EncodeToString(digest[:])

	sanitized, possible := DetectAndSanitizePossibleSSN("123-45-6789")
	assert.True(t, possible)
	assert.Equal(t, expected, sanitized)

	// Hyphenless SSNs are flagged but never rewritten.
	sanitized, possible = DetectAndSanitizePossibleSSN("123456789")
	assert.True(t, possible)
	assert.Empty(t, sanitized)

	// Invalid area, group, or serial segments are not SSNs.
	for _, notSSN := range []string{"000-45-6789", "666-45-6789", "900-45-6789", "123-00-6789", "123-45-0000"} {
		_, possible = DetectAndSanitizePossibleSSN(notSSN)
		assert.False(t, possible, notSSN)
	}

	_, possible = DetectAndSanitizePossibleSSN("abc123")
	assert.False(t, possible)
	_, possible = DetectAndSanitizePossibleSSN("")
	assert.False(t, possible)
}

func TestDetectAndSanitizePossibleSSNIdempotent(t *testing.T) {
	sanitized, _ := DetectAndSanitizePossibleSSN("123-45-6789")
	again, possible := DetectAndSanitizePossibleSSN(sanitized)
	assert.False(t, possible)
	assert.Empty(t, again)
}
