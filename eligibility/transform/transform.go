// Package transform converts raw row messages into parsed records ready for
// staging, covering both census files and streamed data-provider records.
package transform

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/havenhealth/eligibility-app/eligibility/cache"
	"github.com/havenhealth/eligibility-app/eligibility/constants"
	"github.com/havenhealth/eligibility-app/eligibility/featureflag"
	"github.com/havenhealth/eligibility-app/eligibility/models"
	"github.com/havenhealth/eligibility-app/eligibility/orgconfig"
	"github.com/havenhealth/eligibility-app/eligibility/parser"
)

// Service holds the transformation dependencies. Parsers are built once per
// file and held in a bounded TTL cache so completed files age out.
type Service struct {
	Orgs   *orgconfig.Service
	Flags  featureflag.FeatureFlags
	Logger logrus.FieldLogger

	parsers *cache.TTLCache
}

type fileParser struct {
	parser        *parser.Parser
	configuration *models.Configuration
	mapping       models.HeaderMapping
	customAttrs   map[string]string
}

func New(orgs *orgconfig.Service, flags featureflag.FeatureFlags, logger logrus.FieldLogger) *Service {
	return &Service{
		Orgs:    orgs,
		Flags:   flags,
		Logger:  logger,
		parsers: cache.NewTTLCache(constants.RowCountCacheTTLSeconds*time.Second, constants.RowCountCacheMaxSize),
	}
}

// Process transforms one message. A nil result with nil error means the
// record was dropped. Panics inside a single record are contained so one
// poison message cannot stall the stage.
func (s *Service) Process(ctx context.Context, msg models.UnprocessedMessage) (processed *models.ProcessedMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.WithFields(logrus.Fields{
				"file_id":         msg.Metadata.FileID,
				"organization_id": msg.Metadata.OrganizationID,
				"index":           msg.Metadata.Index,
			}).Errorf("panic while transforming record: %v", r)
			processed, err = nil, fmt.Errorf("panic while transforming record: %v", r)
		}
	}()

	switch msg.Metadata.Type {
	case models.IngestionTypeStream:
		return s.processStreamRecord(ctx, msg)
	default:
		return s.processFileRow(ctx, msg)
	}
}

func (s *Service) processFileRow(ctx context.Context, msg models.UnprocessedMessage) (*models.ProcessedMessage, error) {
	fp, err := s.parserFor(ctx, msg.Metadata)
	if err != nil {
		return nil, err
	}

	fields := MapFields(msg.Record, fp.mapping, fp.customAttrs)
	row := parser.Row{Fields: fields, Extra: msg.Extra}

	if fp.configuration != nil && fp.configuration.DataProvider {
		if err := s.ensureExternalMapping(ctx, fp, fields); err != nil {
			return nil, err
		}
	}

	rec := fp.parser.ParseRow(row)
	rec.Record["file_id"] = msg.Metadata.FileID
	rec.Record["received_ts"] = msg.Metadata.IngestionTS.Format(time.RFC3339)
	rec.Record["parse_line_no"] = msg.Metadata.Index

	ts := time.Now()
	meta := msg.Metadata
	meta.TransformationTS = &ts

	return &models.ProcessedMessage{Metadata: meta, Record: rec}, nil
}

func (s *Service) parserFor(ctx context.Context, meta models.Metadata) (*fileParser, error) {
	key := strconv.FormatInt(meta.FileID, 10)
	if cached, ok := s.parsers.Get(key); ok {
		return cached.(*fileParser), nil
	}

	cfg, err := s.Orgs.Configuration(ctx, meta.OrganizationID)
	if err != nil {
		return nil, err
	}
	mapping, err := s.Orgs.HeaderMapping(ctx, meta.OrganizationID)
	if err != nil {
		return nil, err
	}
	customAttrs, err := s.Orgs.CustomAttributes(ctx, meta.OrganizationID)
	if err != nil {
		return nil, err
	}

	file := &models.File{ID: meta.FileID, OrganizationID: meta.OrganizationID, Name: meta.Identifier}
	fp := &fileParser{
		parser:        parser.New(file, cfg, parser.ExternalIDMappings{}, customAttrs, s.Logger),
		configuration: cfg,
		mapping:       mapping,
		customAttrs:   customAttrs,
	}
	s.parsers.Set(key, fp)

	return fp, nil
}

// ensureExternalMapping resolves the row's external client id against the
// data provider's registered mappings and primes the parser with the result.
// Unresolvable ids are left absent, which the parser reports per row.
func (s *Service) ensureExternalMapping(ctx context.Context, fp *fileParser, fields map[string]string) error {
	clientID := fields["client_id"]
	customerID := fields["customer_id"]
	if clientID == "" {
		return nil
	}
	if _, ok := fp.parser.ExternalIDs.Resolve(clientID, customerID); ok {
		return nil
	}

	info, err := s.Orgs.ExternalOrgInfo(ctx, fp.configuration.DirectoryName, clientID, customerID)
	if err != nil {
		return errors.Wrap(err, "could not resolve external client id")
	}
	if info == nil {
		return nil
	}

	key := parser.ExternalIDKey{ClientID: clientID}
	if strings.Contains(info.ExternalID, ":") {
		key.CustomerID = customerID
	}
	fp.parser.ExternalIDs[key] = info.OrganizationID
	return nil
}

// MapFields lowers raw record keys into canonical field names, dropping any
// column the organization has no mapping for. Canonical names pass through
// untouched so re-transformed records stay stable.
func MapFields(record map[string]interface{}, mapping models.HeaderMapping, customAttrs map[string]string) map[string]string {
	aliasToCanonical := mapping.AliasToCanonical()

	fields := make(map[string]string, len(record))
	for key, value := range record {
		k := strings.ToLower(strings.TrimSpace(key))
		if canonical, ok := aliasToCanonical[k]; ok {
			k = canonical
		} else if !keepUnmapped(k, mapping, customAttrs) {
			continue
		}
		fields[k] = stringValue(value)
	}
	return fields
}

func keepUnmapped(key string, mapping models.HeaderMapping, customAttrs map[string]string) bool {
	if _, ok := mapping[key]; ok {
		return true
	}
	if _, ok := mapping.OptionalHeaders()[key]; ok {
		return true
	}
	if _, ok := customAttrs[key]; ok {
		return true
	}
	_, ok := models.HealthPlanFields[key]
	return ok
}

func stringValue(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	default:
		return fmt.Sprint(value)
	}
}
