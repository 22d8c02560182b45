// Package parser converts raw census rows into canonical member records,
// annotating each with the errors and warnings encountered along the way. The
// parser is pure: it performs no I/O and touches no shared state.
package parser

import (
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/havenhealth/eligibility-app/eligibility/constants"
	"github.com/havenhealth/eligibility-app/eligibility/convert"
	"github.com/havenhealth/eligibility-app/eligibility/models"
	"github.com/havenhealth/eligibility-app/eligibility/utils"
)

// Row-level error tags.
const (
	ErrorDOBMissing        = "DOB_MISS"
	ErrorDOBParse          = "DOB_PARSE"
	ErrorDOBUnknown        = "DOB_UNKNOWN"
	ErrorDOBFuture         = "DOB_FUT"
	ErrorCorpIDMissing     = "CORP_ID_MISS"
	ErrorEmail             = "EMAIL"
	ErrorPIIMissing        = "PII_MISS"
	ErrorExtraField        = "EXTRA_FIELD"
	ErrorClientIDNoMapping = "CLIENT_ID_NO_MAPPING"
)

// Row-level warning tags.
const (
	WarningEmail   = "EMAIL"
	WarningState   = "STATE"
	WarningCountry = "COUNTRY"
	WarningSSN     = "SSN"
)

const primaryKey = "unique_corp_id"

// PII key sets. A row must carry at least one complete set to be valid.
var (
	primaryPIIKeys    = []string{"date_of_birth", "email"}
	secondaryPIIKeys  = []string{"date_of_birth", "work_state", "first_name", "last_name"}
	clientSpecPIIKeys = []string{"date_of_birth", "unique_corp_id"}
	noDOBPIIKeys      = []string{"email", "first_name", "last_name", "unique_corp_id"}
)

// Username and domain halves of the RFC 3696 derived email check. The
// username is limited to 64 characters, the domain to 255.
var (
	emailUserPattern   = regexp.MustCompile("^[\\w!#$%&'*+/=?`{|}~^-]+(?:\\.[\\w!#$%&'*+/=?`{|}~^-]+)*$")
	emailDomainPattern = regexp.MustCompile(`^(?:[a-zA-Z0-9-]+\.)+[a-zA-Z]+$`)
)

func validEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}
	user, domain := email[:at], email[at+1:]
	if len(user) > 64 || len(domain) < 2 || len(domain) > 255 {
		return false
	}
	return emailUserPattern.MatchString(user) && emailDomainPattern.MatchString(domain)
}

// ExternalIDKey identifies a data provider's sub-organization. Lookups try
// the compound (client, customer) key first, then the client id alone.
type ExternalIDKey struct {
	ClientID   string
	CustomerID string
}

// ExternalIDMappings resolves external ids to real organization ids.
type ExternalIDMappings map[ExternalIDKey]int64

// Resolve applies the compound-then-client waterfall.
func (m ExternalIDMappings) Resolve(clientID, customerID string) (int64, bool) {
	if clientID == "" {
		return 0, false
	}
	if customerID != "" {
		if orgID, ok := m[ExternalIDKey{ClientID: clientID, CustomerID: customerID}]; ok {
			return orgID, true
		}
	}
	orgID, ok := m[ExternalIDKey{ClientID: clientID}]
	return orgID, ok
}

// Parser normalizes rows for a single file.
type Parser struct {
	File             *models.File
	Configuration    *models.Configuration
	ExternalIDs      ExternalIDMappings
	CustomAttributes map[string]string
	Logger           logrus.FieldLogger

	today           time.Time
	loggedNoDOBOrgs map[int64]struct{}
}

func New(file *models.File, configuration *models.Configuration, externalIDs ExternalIDMappings,
	customAttributes map[string]string, logger logrus.FieldLogger) *Parser {

	return &Parser{
		File:             file,
		Configuration:    configuration,
		ExternalIDs:      externalIDs,
		CustomAttributes: customAttributes,
		Logger: logger.WithFields(logrus.Fields{
			"file":         file.Name,
			"organization": file.OrganizationID,
		}),
		today:           time.Now().UTC().Truncate(24 * time.Hour),
		loggedNoDOBOrgs: make(map[int64]struct{}),
	}
}

// ParseRow converts one raw row into a canonical record. Ordering matters:
// extra-field rejection and data-provider remapping run before any coercion,
// and hashing runs over the finished record.
func (p *Parser) ParseRow(row Row) *models.ParsedRecord {
	rec := &models.ParsedRecord{
		FileID:           p.File.ID,
		OrganizationID:   p.File.OrganizationID,
		Record:           make(map[string]interface{}, len(row.Fields)+4),
		CustomAttributes: map[string]interface{}{},
	}
	for k, v := range row.Fields {
		rec.Record[k] = v
	}

	// Overflow columns mean the row cannot be trusted at all.
	if anyNonEmpty(row.Extra) {
		rec.Errors = append(rec.Errors, ErrorExtraField)
		return rec
	}

	if p.Configuration != nil && p.Configuration.DataProvider {
		p.remapDataProviderOrg(row, rec)
	}

	p.coerceFields(row, rec)
	p.extractCustomAttributes(row, rec)
	p.validateEmail(row, rec)

	noDOBOrg := constants.IsOrganizationNotSendingDOB(rec.OrganizationID)
	p.validateDOB(row, rec, noDOBOrg)

	sanitizedPK := p.validatePrimaryKey(row, rec)
	p.validatePII(row, rec, noDOBOrg)
	p.normalizeAddress(row, rec)

	if dependentID, ok := row.Fields["dependent_id"]; ok {
		rec.DependentID = strings.TrimSpace(dependentID)
		rec.Record["dependent_id"] = rec.DependentID
	}

	rec.FirstName = row.Fields["first_name"]
	rec.LastName = row.Fields["last_name"]
	rec.Record["organization_id"] = rec.OrganizationID

	rec.GenderCode = convert.ResolveGenderCode(row.Fields["gender"])
	rec.Record["gender_code"] = rec.GenderCode

	rec.HashValue, rec.HashVersion = utils.GenerateHashForFileRecord(rec)

	// The marker is set after hashing so a rewritten corp id never perturbs
	// the change-detection hash.
	if sanitizedPK {
		rec.Record[utils.SSNMarkerKey] = true
	}

	if len(rec.Errors) > 0 {
		p.Logger.WithFields(logrus.Fields{
			"file_id":         rec.FileID,
			"organization_id": rec.OrganizationID,
			"errors":          rec.Errors,
		}).Error("Errors encountered during parsing")
	}

	return rec
}

// remapDataProviderOrg overwrites the row's organization with the one mapped
// from its client id. An unmapped client id attaches an error but the row
// still parses in full under the data provider's own organization.
func (p *Parser) remapDataProviderOrg(row Row, rec *models.ParsedRecord) {
	clientID := row.Fields["client_id"]
	customerID := row.Fields["customer_id"]

	if orgID, ok := p.ExternalIDs.Resolve(clientID, customerID); ok {
		rec.DataProviderOrganizationID = rec.OrganizationID
		rec.Record["data_provider_organization_id"] = rec.OrganizationID
		rec.OrganizationID = orgID
		return
	}

	p.Logger.WithFields(logrus.Fields{
		"file_id":              rec.FileID,
		"organization_id":      rec.OrganizationID,
		"external_client_id":   clientID,
		"external_customer_id": customerID,
	}).Error("Received a record from data provider that did not have a mapped external client_id")
	rec.Errors = append(rec.Errors, ErrorClientIDNoMapping)
}

func (p *Parser) coerceFields(row Row, rec *models.ParsedRecord) {
	if v, ok := row.Fields["gender"]; ok {
		rec.Record["can_get_pregnant"] = convert.ToCanGetPregnant(v)
	}
	if v, ok := row.Fields["beneficiaries_enabled"]; ok {
		rec.Record["beneficiaries_enabled"] = convert.ToBeneficiariesEnabled(v)
	}
	for _, key := range []string{"wallet_enabled", "cobra_coverage", "company_couple"} {
		if v, ok := row.Fields[key]; ok {
			rec.Record[key] = convert.ToBool(v)
		}
	}
	for _, key := range []string{"employee_start_date", "employee_eligibility_date"} {
		if v, ok := row.Fields[key]; ok {
			if parsed, err := convert.ToDate(v); err == nil {
				rec.Record[key] = parsed.Format("2006-01-02")
			} else {
				rec.Record[key] = nil
			}
		}
	}
	if v, ok := row.Fields["country"]; ok {
		rec.Country = convert.ToCountryCode(v)
		rec.Record["country"] = rec.Country
	}
}

func (p *Parser) extractCustomAttributes(row Row, rec *models.ParsedRecord) {
	for key, canonical := range p.CustomAttributes {
		if v, ok := row.Fields[key]; ok {
			rec.CustomAttributes[canonical] = v
		} else {
			rec.CustomAttributes[canonical] = nil
		}
		delete(rec.Record, key)
	}

	healthPlanValues := map[string]interface{}{}
	for key := range models.HealthPlanFields {
		if v, ok := row.Fields[key]; ok && v != "" {
			healthPlanValues[key] = v
		}
		delete(rec.Record, key)
	}
	if len(healthPlanValues) > 0 {
		rec.CustomAttributes["health_plan_values"] = healthPlanValues
	}
}

func (p *Parser) validateEmail(row Row, rec *models.ParsedRecord) {
	raw, ok := row.Fields["email"]
	if !ok {
		return
	}
	email := strings.TrimSpace(raw)
	rec.Email = email
	rec.Record["email"] = email
	if email == "" {
		rec.Warnings = append(rec.Warnings, WarningEmail)
		return
	}
	if !validEmail(email) {
		rec.Errors = append(rec.Errors, ErrorEmail)
	}
}

func (p *Parser) validateDOB(row Row, rec *models.ParsedRecord, noDOBOrg bool) {
	raw, present := row.Fields["date_of_birth"]

	if noDOBOrg {
		if _, logged := p.loggedNoDOBOrgs[rec.OrganizationID]; !logged {
			p.loggedNoDOBOrgs[rec.OrganizationID] = struct{}{}
			p.Logger.WithFields(logrus.Fields{
				"file_id":         rec.FileID,
				"organization_id": rec.OrganizationID,
			}).Info("Received a file from an organization that doesn't send date_of_birth")
		}
		if !present {
			rec.DateOfBirth = convert.DefaultDateOfBirth
			rec.Record["date_of_birth"] = rec.DateOfBirth.Format("2006-01-02")
			return
		}
	}

	if !present {
		if !noDOBOrg {
			rec.Errors = append(rec.Errors, ErrorDOBMissing)
		}
		return
	}

	parsed, err := convert.ToDate(raw)
	switch {
	case err == convert.ErrDateUnknown:
		if !noDOBOrg {
			rec.Errors = append(rec.Errors, ErrorDOBUnknown)
		}
		rec.DateOfBirth = convert.DefaultDateOfBirth
	case err != nil:
		if !noDOBOrg {
			rec.Errors = append(rec.Errors, ErrorDOBParse)
		}
		// Preserve the original input so it can be inspected later.
		rec.Record["date_of_birth"] = raw
		return
	case parsed.After(p.today) && !noDOBOrg:
		rec.Errors = append(rec.Errors, ErrorDOBFuture)
		rec.DateOfBirth = parsed
	default:
		rec.DateOfBirth = parsed
	}
	rec.Record["date_of_birth"] = rec.DateOfBirth.Format("2006-01-02")
}

// validatePrimaryKey trims and checks unique_corp_id, rewriting values that
// resemble a hyphenated SSN. It reports whether a rewrite occurred.
func (p *Parser) validatePrimaryKey(row Row, rec *models.ParsedRecord) bool {
	pk := strings.TrimSpace(row.Fields[primaryKey])
	rec.UniqueCorpID = pk
	rec.Record[primaryKey] = pk
	if pk == "" {
		rec.Errors = append(rec.Errors, ErrorCorpIDMissing)
	}

	sanitized, possibleSSN := utils.DetectAndSanitizePossibleSSN(pk)
	if possibleSSN {
		rec.Warnings = append(rec.Warnings, WarningSSN)
	}
	if sanitized != "" {
		rec.UniqueCorpID = sanitized
		rec.Record[primaryKey] = sanitized
		return true
	}
	return false
}

func (p *Parser) validatePII(row Row, rec *models.ParsedRecord, noDOBOrg bool) {
	present := make(map[string]struct{}, len(row.Fields)+2)
	for k := range row.Fields {
		present[k] = struct{}{}
	}
	// The primary key is always materialized on the record, and a default
	// DOB counts as present for no-DOB organizations.
	present[primaryKey] = struct{}{}
	if !rec.DateOfBirth.IsZero() {
		present["date_of_birth"] = struct{}{}
	}

	if noDOBOrg {
		if !hasAll(present, noDOBPIIKeys) {
			rec.Errors = append(rec.Errors, ErrorPIIMissing)
		}
		return
	}
	if !hasAll(present, secondaryPIIKeys) && !hasAll(present, primaryPIIKeys) && !hasAll(present, clientSpecPIIKeys) {
		rec.Errors = append(rec.Errors, ErrorPIIMissing)
	}
}

func (p *Parser) normalizeAddress(row Row, rec *models.ParsedRecord) {
	countryCode := convert.CountryDefault
	if rec.Country != "" {
		if rec.Country == convert.CountryUnknown {
			rec.Warnings = append(rec.Warnings, WarningCountry)
			rec.Country = row.Fields["country"]
			rec.Record["country"] = rec.Country
		} else {
			countryCode = rec.Country
		}
	}

	state := ""
	if raw, ok := row.Fields["state"]; ok && raw != "" {
		state = convert.ToStateCode(raw, countryCode)
		if state != convert.StateUnknown {
			rec.State = state
			rec.Record["state"] = state
		} else {
			rec.State = raw
			rec.Warnings = append(rec.Warnings, WarningState)
		}
	}

	if raw, ok := row.Fields["work_state"]; ok && raw != "" && raw != rec.State {
		workState := convert.ToStateCode(raw, countryCode)
		if workState == convert.StateUnknown && rec.State != "" && state != convert.StateUnknown {
			workState = rec.State
		}
		if workState != convert.StateUnknown {
			rec.WorkState = workState
			rec.Record["work_state"] = workState
		} else {
			rec.WorkState = raw
			rec.Warnings = append(rec.Warnings, WarningState)
		}
	} else if ok && raw == rec.State {
		rec.WorkState = rec.State
	}
}

// ParseBatches reads rows from the source in batches of batchSize, binning
// each parsed record by validity.
func (p *Parser) ParseBatches(source RowSource, batchSize int, fn func(*models.ParsedBatch) error) error {
	return Batches(source, batchSize, func(rows []Row) error {
		batch := &models.ParsedBatch{}
		for _, row := range rows {
			parsed := p.ParseRow(row)
			if parsed.Valid() {
				batch.Valid = append(batch.Valid, parsed)
			} else {
				batch.Errors = append(batch.Errors, parsed)
			}
		}
		return fn(batch)
	})
}

func anyNonEmpty(values []string) bool {
	for _, v := range values {
		if v != "" {
			return true
		}
	}
	return false
}

func hasAll(present map[string]struct{}, keys []string) bool {
	for _, k := range keys {
		if _, ok := present[k]; !ok {
			return false
		}
	}
	return true
}
