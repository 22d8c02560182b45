package transform

import (
	"context"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/havenhealth/eligibility-app/eligibility/convert"
	"github.com/havenhealth/eligibility-app/eligibility/models"
	"github.com/havenhealth/eligibility-app/eligibility/utils"
)

// SourceOptum tags records that arrived over the Optum stream.
const SourceOptum = "optum"

// StreamRecord is the payload shape delivered by the data provider stream.
type StreamRecord struct {
	ClientID        string `mapstructure:"clientId"`
	CustomerID      string `mapstructure:"customerId"`
	MemberID        string `mapstructure:"memberId"`
	SubscriberID    string `mapstructure:"subscriberId"`
	AltID           string `mapstructure:"altId"`
	PrimaryMemberID string `mapstructure:"primaryMemberId"`

	FirstName    string `mapstructure:"firstName"`
	LastName     string `mapstructure:"lastName"`
	DateOfBirth  string `mapstructure:"dateOfBirth"`
	Gender       string `mapstructure:"gender"`
	WorkState    string `mapstructure:"workState"`
	DoNotContact string `mapstructure:"doNotContact"`

	Addresses      []StreamAddress        `mapstructure:"addresses"`
	EmailAddresses []string               `mapstructure:"emailAddresses"`
	Eligibilities  []StreamEligibility    `mapstructure:"eligibilities"`
	Attributes     map[string]interface{} `mapstructure:"attributes"`
}

// StreamAddress is one postal address on a streamed record. TypeCode orders
// address preference; Source distinguishes delegate feeds from employer
// feeds.
type StreamAddress struct {
	TypeCode         string `mapstructure:"typeCode"`
	Source           string `mapstructure:"source"`
	Address1         string `mapstructure:"addressLine1"`
	Address2         string `mapstructure:"addressLine2"`
	City             string `mapstructure:"city"`
	State            string `mapstructure:"state"`
	PostalCode       string `mapstructure:"zipCode"`
	PostalCodeSuffix string `mapstructure:"zipCodeSuffix"`
	CountryCode      string `mapstructure:"countryCode"`
}

// StreamEligibility is one coverage span on a streamed record.
type StreamEligibility struct {
	EffectiveDate   string `mapstructure:"effectiveDate"`
	TerminationDate string `mapstructure:"terminationDate"`
}

func (s *Service) processStreamRecord(ctx context.Context, msg models.UnprocessedMessage) (*models.ProcessedMessage, error) {
	var stream StreamRecord
	if err := mapstructure.Decode(msg.Record, &stream); err != nil {
		return nil, errors.Wrap(err, "could not decode stream record")
	}

	logger := s.Logger.WithFields(logrus.Fields{
		"source":    SourceOptum,
		"client_id": stream.ClientID,
	})
	if s.Flags.IsOptumLoggingEnabled() {
		logger.WithField("record", msg.Record).Info("received stream record")
	}

	info, err := s.Orgs.ExternalOrgInfo(ctx, SourceOptum, stream.ClientID, stream.CustomerID)
	if err != nil {
		return nil, err
	}
	if info == nil {
		logger.Warn("dropping stream record with no mapped organization")
		return nil, nil
	}

	if info.ActivatedAt == nil {
		logger.WithField("organization_id", info.OrganizationID).Warn("dropping stream record for an inactive organization")
		return nil, nil
	}

	effectiveRange, ok := ResolveEffectiveRange(stream.Eligibilities, time.Now())
	if !ok {
		logger.Warn("dropping stream record with an inverted effective range")
		return nil, nil
	}
	if activatedAfterRange(*info.ActivatedAt, effectiveRange) {
		logger.WithField("organization_id", info.OrganizationID).Warn("dropping stream record terminated before organization activation")
		return nil, nil
	}

	record := &models.ExternalRecord{
		OrganizationID:     info.OrganizationID,
		FirstName:          stream.FirstName,
		LastName:           stream.LastName,
		UniqueCorpID:       resolveCorpID(stream),
		DependentID:        stream.PrimaryMemberID,
		WorkState:          stream.WorkState,
		EmployerAssignedID: stream.AltID,
		EffectiveRange:     effectiveRange,
		GenderCode:         convert.ResolveGenderCode(stream.Gender),
		DoNotContact:       convert.ResolveDoNotContact(stream.DoNotContact),
		ExternalID:         stream.ClientID,
		Source:             SourceOptum,
		Record: map[string]interface{}{
			"external_id": stream.ClientID,
			"source":      SourceOptum,
			"member_id":   stream.MemberID,
		},
		CustomAttributes: flattenAttributes(stream.Attributes),
	}
	if sanitized, possibleSSN := utils.DetectAndSanitizePossibleSSN(record.UniqueCorpID); possibleSSN {
		logger.WithField("organization_id", info.OrganizationID).Warn("stream record corp id resembles an SSN")
		if sanitized != "" {
			record.UniqueCorpID = sanitized
			record.Record["unique_corp_id"] = sanitized
			record.Record[utils.SSNMarkerKey] = true
		}
	}
	if len(stream.EmailAddresses) > 0 {
		record.Email = stream.EmailAddresses[0]
	}
	if dob, err := convert.ToDate(stream.DateOfBirth); err == nil {
		record.DateOfBirth = dob
	}

	address := ResolveMemberAddress(stream.Addresses)
	record.HashValue, record.HashVersion = utils.GenerateHashForExternalRecord(record, address)

	ts := time.Now()
	meta := msg.Metadata
	meta.OrganizationID = info.OrganizationID
	meta.TransformationTS = &ts

	return &models.ProcessedMessage{
		Metadata: meta,
		Record: &models.ParsedRecord{
			OrganizationID:   record.OrganizationID,
			FirstName:        record.FirstName,
			LastName:         record.LastName,
			Email:            record.Email,
			UniqueCorpID:     record.UniqueCorpID,
			DependentID:      record.DependentID,
			DateOfBirth:      record.DateOfBirth,
			WorkState:        record.WorkState,
			EffectiveRange:   record.EffectiveRange,
			GenderCode:       record.GenderCode,
			DoNotContact:     record.DoNotContact,
			Record:           record.Record,
			CustomAttributes: record.CustomAttributes,
			HashValue:        record.HashValue,
			HashVersion:      record.HashVersion,
		},
		Address: address,
	}, nil
}

// resolveCorpID falls through the stream identifiers in preference order.
func resolveCorpID(stream StreamRecord) string {
	for _, candidate := range []string{stream.MemberID, stream.SubscriberID, stream.AltID, stream.PrimaryMemberID} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// ResolveEffectiveRange merges coverage spans into one range: the lower bound
// is the earliest effective date (today when none is given) and the upper
// bound is the latest termination date, where any open-ended span keeps the
// whole range open. It reports false when the merged range is inverted.
func ResolveEffectiveRange(eligibilities []StreamEligibility, now time.Time) (*models.DateRange, bool) {
	today := now.UTC().Truncate(24 * time.Hour)
	lower := today
	haveLower := false
	var upper *time.Time
	open := len(eligibilities) == 0

	for _, e := range eligibilities {
		effective := today
		if e.EffectiveDate != "" {
			if parsed, err := convert.ToDate(e.EffectiveDate); err == nil {
				effective = parsed
			}
		}
		if !haveLower || effective.Before(lower) {
			lower, haveLower = effective, true
		}

		if e.TerminationDate == "" {
			open = true
			continue
		}
		parsed, err := convert.ToDate(e.TerminationDate)
		if err != nil {
			open = true
			continue
		}
		if upper == nil || parsed.After(*upper) {
			upper = &parsed
		}
	}

	if open {
		upper = nil
	}
	if upper != nil && upper.Before(lower) {
		return nil, false
	}
	return &models.DateRange{Lower: &lower, Upper: upper}, true
}

// activatedAfterRange reports whether the organization activated on or after
// the day coverage ends, which makes the record useless.
func activatedAfterRange(activatedAt time.Time, r *models.DateRange) bool {
	if r == nil || r.Upper == nil {
		return false
	}
	return !activatedAt.Truncate(24 * time.Hour).Before(*r.Upper)
}

// Address preference, best first.
var addressPriority = []string{"263", "180", "P", "M"}

// ResolveMemberAddress picks the best address from the stream record. When
// both the delegate feed and the employer feed supply addresses, neither is
// trusted.
func ResolveMemberAddress(addresses []StreamAddress) *models.Address {
	var sawDelegate, sawEmployer bool
	for _, a := range addresses {
		switch strings.ToUpper(a.Source) {
		case "OEEDM":
			sawDelegate = true
		case "EMPLOYER":
			sawEmployer = true
		}
	}
	if sawDelegate && sawEmployer {
		return nil
	}

	for _, typeCode := range addressPriority {
		for _, a := range addresses {
			if a.TypeCode != typeCode {
				continue
			}
			return &models.Address{
				Address1:         a.Address1,
				Address2:         a.Address2,
				City:             a.City,
				State:            a.State,
				PostalCode:       a.PostalCode,
				PostalCodeSuffix: a.PostalCodeSuffix,
				CountryCode:      a.CountryCode,
			}
		}
	}
	return nil
}

// flattenAttributes lifts nested attribute maps into dotted keys so they can
// be stored as flat custom attributes.
func flattenAttributes(attributes map[string]interface{}) map[string]interface{} {
	flat := make(map[string]interface{}, len(attributes))
	flattenInto(flat, "", attributes)
	return flat
}

func flattenInto(dst map[string]interface{}, prefix string, src map[string]interface{}) {
	for k, v := range src {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flattenInto(dst, key, nested)
			continue
		}
		dst[key] = v
	}
}
