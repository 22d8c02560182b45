// Package utils contains record hashing and SSN detection helpers shared by
// the parser and the transformation stage.
package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/havenhealth/eligibility-app/conf"
	"github.com/havenhealth/eligibility-app/eligibility/models"
)

// GetEnvInt reads an integer environment variable, falling back to
// defaultVal when unset or unparseable.
func GetEnvInt(varName string, defaultVal int) int {
	v := conf.GetEnv(varName)
	if v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return defaultVal
}

// HashVersion is the current change-detection hash scheme. Bump when the
// field composition below changes.
const HashVersion = 2

// SSNMarkerKey flags records whose unique_corp_id was rewritten because it
// resembled a hyphenated SSN.
const SSNMarkerKey = "id-resembling-hyphenated-ssn"

// hashExcludedRecordKeys are fields the system itself inserts into the record
// blob; they never participate in the hash.
var hashExcludedRecordKeys = map[string]struct{}{
	"file_id":       {},
	"received_ts":   {},
	"parse_line_no": {},
	SSNMarkerKey:    {},
}

// GenerateHashForFileRecord computes the change-detection hash for a
// file-based record: a SHA-256 over the comma-joined canonical fields, the
// sorted record blob, and the sorted custom attributes, suffixed with the
// organization id for partition locality.
func GenerateHashForFileRecord(record *models.ParsedRecord) (string, int) {
	customAttributes := ""
	healthAttributes := ""
	if len(record.CustomAttributes) > 0 {
		custom := make(map[string]interface{}, len(record.CustomAttributes))
		for k, v := range record.CustomAttributes {
			if k == "health_plan_values" {
				if nested, ok := v.(map[string]interface{}); ok {
					healthAttributes = sortedPairs(nested, nil)
				}
				continue
			}
			custom[k] = v
		}
		customAttributes = sortedPairs(custom, nil)
	}

	raw := strings.Join([]string{
		record.FirstName,
		record.LastName,
		strconv.FormatInt(record.OrganizationID, 10),
		record.UniqueCorpID,
		formatDate(record.DateOfBirth),
		record.State,
		record.WorkState,
		record.Country,
		record.Email,
		record.DependentID,
		sortedPairs(record.Record, hashExcludedRecordKeys),
		record.DoNotContact,
		record.GenderCode,
		customAttributes,
		healthAttributes,
	}, ",")

	return suffixedDigest(raw, record.OrganizationID), HashVersion
}

// GenerateHashForExternalRecord computes the change-detection hash for a
// streamed record and its selected address.
func GenerateHashForExternalRecord(record *models.ExternalRecord, address *models.Address) (string, int) {
	addressString := ""
	if address != nil {
		addressString = strings.Join([]string{
			address.Address1,
			address.City,
			address.State,
			address.PostalCode,
			address.Address2,
			address.PostalCodeSuffix,
			address.CountryCode,
		}, ",")
	}

	var lower, upper string
	if record.EffectiveRange != nil {
		if record.EffectiveRange.Lower != nil {
			lower = formatDate(*record.EffectiveRange.Lower)
		}
		if record.EffectiveRange.Upper != nil {
			upper = formatDate(*record.EffectiveRange.Upper)
		}
	}

	raw := strings.Join([]string{
		record.FirstName,
		record.LastName,
		strconv.FormatInt(record.OrganizationID, 10),
		record.UniqueCorpID,
		formatDate(record.DateOfBirth),
		record.WorkState,
		record.Email,
		record.DependentID,
		sortedPairs(record.Record, hashExcludedRecordKeys),
		addressString,
		record.DoNotContact,
		record.GenderCode,
		record.EmployerAssignedID,
		upper,
		lower,
		sortedPairs(record.CustomAttributes, nil),
	}, ",")

	return suffixedDigest(raw, record.OrganizationID), HashVersion
}

func suffixedDigest(raw string, organizationID int64) string {
	digest := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(digest[:]) + "," + strconv.FormatInt(organizationID, 10)
}

// sortedPairs renders a map as sorted "key:value" pairs so it always hashes
// in the same order.
func sortedPairs(m map[string]interface{}, excluded map[string]struct{}) string {
	if len(m) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(m))
	for k, v := range m {
		if excluded != nil {
			if _, skip := excluded[k]; skip {
				continue
			}
		}
		pairs = append(pairs, fmt.Sprintf("%s:%v", k, v))
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ";")
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

var ssnLoosePattern = regexp.MustCompile(`^\d{3}-?\d{2}-?\d{4}$`)
var ssnExactPattern = regexp.MustCompile(`^\d{3}-\d{2}-\d{4}$`)

// looksLikeSSN applies the SSN structural rules to a candidate that already
// matched the digit grouping: area not 000 or 666 and below 900, group not
// 00, serial not 0000.
func looksLikeSSN(candidate string) bool {
	digits := strings.ReplaceAll(candidate, "-", "")
	area, group, serial := digits[:3], digits[3:5], digits[5:]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	if group == "00" || serial == "0000" {
		return false
	}
	return true
}

// DetectAndSanitizePossibleSSN inspects a primary-key value for SSN shapes.
// A hyphenated SSN is rewritten to its SHA-256 hex digest; a hyphenless SSN
// is only flagged. The returned sanitized value is empty when no rewrite
// occurred.
func DetectAndSanitizePossibleSSN(input string) (sanitized string, possibleSSN bool) {
	if ssnExactPattern.MatchString(input) && looksLikeSSN(input) {
		digest := sha256.Sum256([]byte(input))
		return hex.EncodeToString(digest[:]), true
	}
	if ssnLoosePattern.MatchString(input) && looksLikeSSN(input) {
		return "", true
	}
	return "", false
}
