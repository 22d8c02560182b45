package transform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenhealth/eligibility-app/eligibility/models"
	"github.com/havenhealth/eligibility-app/eligibility/utils"
)

func streamMessage(record map[string]interface{}) models.UnprocessedMessage {
	return models.UnprocessedMessage{
		Metadata: models.Metadata{
			Identifier:  "optum",
			Type:        models.IngestionTypeStream,
			IngestionTS: time.Now(),
		},
		Record: record,
	}
}

func streamOrgInfo(orgID int64, clientID string, activated time.Time) *models.ExternalOrgInfo {
	return &models.ExternalOrgInfo{
		OrganizationID: orgID, ExternalID: clientID, Source: "optum", ActivatedAt: &activated,
	}
}

func (s *TransformTestSuite) TestProcessStreamRecord() {
	s.repo.externalIDs["optum/client1"] = streamOrgInfo(42, "client1", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))

	msg := streamMessage(map[string]interface{}{
		"clientId":        "client1",
		"memberId":        "M-1",
		"subscriberId":    "S-1",
		"primaryMemberId": "P-1",
		"firstName":       "Ada",
		"lastName":        "Lovelace",
		"dateOfBirth":     "1990-03-02",
		"gender":          "female",
		"doNotContact":    "TRUE",
		"emailAddresses":  []interface{}{"ada@clienta.com", "second@clienta.com"},
		"eligibilities": []interface{}{
			map[string]interface{}{"effectiveDate": "2024-01-01"},
		},
		"addresses": []interface{}{
			map[string]interface{}{"typeCode": "263", "addressLine1": "1 Main St", "city": "Boston", "state": "MA"},
		},
		"attributes": map[string]interface{}{
			"plan": map[string]interface{}{"tier": "gold"},
		},
	})

	processed, err := s.service.Process(context.Background(), msg)
	require.NoError(s.T(), err)
	require.NotNil(s.T(), processed)

	rec := processed.Record
	assert.Equal(s.T(), int64(42), rec.OrganizationID)
	assert.Equal(s.T(), "M-1", rec.UniqueCorpID)
	assert.Equal(s.T(), "P-1", rec.DependentID)
	assert.Equal(s.T(), "ada@clienta.com", rec.Email)
	assert.Equal(s.T(), "F", rec.GenderCode)
	assert.Equal(s.T(), "True", rec.DoNotContact)
	assert.Equal(s.T(), "client1", rec.Record["external_id"])
	assert.Equal(s.T(), "optum", rec.Record["source"])
	assert.Equal(s.T(), "gold", rec.CustomAttributes["plan.tier"])
	require.NotNil(s.T(), rec.EffectiveRange)
	assert.Nil(s.T(), rec.EffectiveRange.Upper)
	require.NotNil(s.T(), processed.Address)
	assert.Equal(s.T(), "1 Main St", processed.Address.Address1)
	assert.NotEmpty(s.T(), rec.HashValue)
}

func (s *TransformTestSuite) TestProcessStreamRecordUnmappedDropped() {
	msg := streamMessage(map[string]interface{}{"clientId": "stranger"})

	processed, err := s.service.Process(context.Background(), msg)
	require.NoError(s.T(), err)
	assert.Nil(s.T(), processed)
}

func (s *TransformTestSuite) TestProcessStreamRecordOrgActivatedAfterTermination() {
	s.repo.externalIDs["optum/client1"] = streamOrgInfo(42, "client1", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))

	msg := streamMessage(map[string]interface{}{
		"clientId": "client1",
		"memberId": "M-1",
		"eligibilities": []interface{}{
			map[string]interface{}{"effectiveDate": "2024-01-01", "terminationDate": "2024-03-01"},
		},
	})

	processed, err := s.service.Process(context.Background(), msg)
	require.NoError(s.T(), err)
	assert.Nil(s.T(), processed)
}

func (s *TransformTestSuite) TestProcessStreamRecordInactiveOrganization() {
	s.repo.externalIDs["optum/client1"] = &models.ExternalOrgInfo{
		OrganizationID: 42, ExternalID: "client1", Source: "optum",
	}

	msg := streamMessage(map[string]interface{}{"clientId": "client1", "memberId": "M-1"})

	processed, err := s.service.Process(context.Background(), msg)
	require.NoError(s.T(), err)
	assert.Nil(s.T(), processed)
}

func (s *TransformTestSuite) TestProcessStreamRecordSanitizesSSNCorpID() {
	s.repo.externalIDs["optum/client1"] = streamOrgInfo(42, "client1", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))

	payload := map[string]interface{}{
		"clientId":  "client1",
		"memberId":  "123-45-6789",
		"firstName": "Ada",
		"lastName":  "Lovelace",
	}

	processed, err := s.service.Process(context.Background(), streamMessage(payload))
	require.NoError(s.T(), err)
	require.NotNil(s.T(), processed)

	rec := processed.Record
	assert.Equal(s.T(), "01a54629efb952287e554eb23ef69c52097a75aecc0e3a93ca0855ab6d7a31a0", rec.UniqueCorpID)
	assert.Equal(s.T(), rec.UniqueCorpID, rec.Record["unique_corp_id"])
	assert.Equal(s.T(), true, rec.Record[utils.SSNMarkerKey])

	// The marker never participates in the hash, so redelivery is stable.
	again, err := s.service.Process(context.Background(), streamMessage(payload))
	require.NoError(s.T(), err)
	assert.Equal(s.T(), rec.HashValue, again.Record.HashValue)
}

func TestResolveCorpIDWaterfall(t *testing.T) {
	assert.Equal(t, "M-1", resolveCorpID(StreamRecord{MemberID: "M-1", SubscriberID: "S-1"}))
	assert.Equal(t, "S-1", resolveCorpID(StreamRecord{SubscriberID: "S-1", AltID: "A-1"}))
	assert.Equal(t, "A-1", resolveCorpID(StreamRecord{AltID: "A-1", PrimaryMemberID: "P-1"}))
	assert.Equal(t, "P-1", resolveCorpID(StreamRecord{PrimaryMemberID: "P-1"}))
	assert.Equal(t, "", resolveCorpID(StreamRecord{}))
}

func TestResolveEffectiveRange(t *testing.T) {
	now := time.Date(2024, 5, 15, 10, 0, 0, 0, time.UTC)
	today := time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC)

	t.Run("no eligibilities defaults to open range from today", func(t *testing.T) {
		r, ok := ResolveEffectiveRange(nil, now)
		require.True(t, ok)
		assert.Equal(t, today, *r.Lower)
		assert.Nil(t, r.Upper)
	})

	t.Run("earliest effective and latest termination win", func(t *testing.T) {
		r, ok := ResolveEffectiveRange([]StreamEligibility{
			{EffectiveDate: "2024-02-01", TerminationDate: "2024-03-01"},
			{EffectiveDate: "2024-01-01", TerminationDate: "2024-06-01"},
		}, now)
		require.True(t, ok)
		assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), *r.Lower)
		assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), *r.Upper)
	})

	t.Run("open span dominates terminations", func(t *testing.T) {
		r, ok := ResolveEffectiveRange([]StreamEligibility{
			{EffectiveDate: "2024-01-01", TerminationDate: "2024-03-01"},
			{EffectiveDate: "2024-02-01"},
		}, now)
		require.True(t, ok)
		assert.Nil(t, r.Upper)
	})

	t.Run("missing effective date falls back to today", func(t *testing.T) {
		r, ok := ResolveEffectiveRange([]StreamEligibility{
			{TerminationDate: "2024-12-31"},
		}, now)
		require.True(t, ok)
		assert.Equal(t, today, *r.Lower)
	})

	t.Run("inverted range rejected", func(t *testing.T) {
		_, ok := ResolveEffectiveRange([]StreamEligibility{
			{EffectiveDate: "2024-06-01", TerminationDate: "2024-01-01"},
		}, now)
		assert.False(t, ok)
	})
}

func TestResolveMemberAddress(t *testing.T) {
	t.Run("priority order", func(t *testing.T) {
		addr := ResolveMemberAddress([]StreamAddress{
			{TypeCode: "M", Address1: "mail"},
			{TypeCode: "263", Address1: "best"},
			{TypeCode: "180", Address1: "second"},
		})
		require.NotNil(t, addr)
		assert.Equal(t, "best", addr.Address1)
	})

	t.Run("mixed sources are not trusted", func(t *testing.T) {
		addr := ResolveMemberAddress([]StreamAddress{
			{TypeCode: "263", Source: "OEEDM", Address1: "delegate"},
			{TypeCode: "180", Source: "employer", Address1: "employer"},
		})
		assert.Nil(t, addr)
	})

	t.Run("no usable type", func(t *testing.T) {
		assert.Nil(t, ResolveMemberAddress([]StreamAddress{{TypeCode: "X"}}))
	})
}

func TestFlattenAttributes(t *testing.T) {
	flat := flattenAttributes(map[string]interface{}{
		"plan": map[string]interface{}{"tier": "gold", "meta": map[string]interface{}{"year": 2024}},
		"top":  "value",
	})
	assert.Equal(t, "gold", flat["plan.tier"])
	assert.Equal(t, 2024, flat["plan.meta.year"])
	assert.Equal(t, "value", flat["top"])
}
