// Package ingest turns raw census uploads into row messages on the bus.
package ingest

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/dimchansky/utfbom"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/havenhealth/eligibility-app/eligibility/cache"
	"github.com/havenhealth/eligibility-app/eligibility/constants"
	"github.com/havenhealth/eligibility-app/eligibility/featureflag"
	"github.com/havenhealth/eligibility-app/eligibility/models"
	"github.com/havenhealth/eligibility-app/eligibility/orgconfig"
	"github.com/havenhealth/eligibility-app/eligibility/parser"
	"github.com/havenhealth/eligibility-app/eligibility/pubsub"
)

// Service processes census uploads end to end: it registers a file row,
// fetches and decodes the bytes, and fans the rows out to the transform
// stage in batches.
type Service struct {
	Files    models.FileRepository
	Orgs     *orgconfig.Service
	Fetcher  FileFetcher
	Queue    pubsub.Publisher
	Counters cache.CounterStore
	Flags    featureflag.FeatureFlags
	Logger   logrus.FieldLogger
}

// ProcessFile ingests one named upload. Directory notices and names whose
// directory has no registered organization are skipped without error.
// Terminal file problems (no bytes, unusable delimiter) are recorded on the
// file row.
func (s *Service) ProcessFile(ctx context.Context, name string) error {
	if strings.HasSuffix(name, "/") {
		s.Logger.WithField("file_name", name).Info("ignoring directory notice")
		return nil
	}

	directory := uploadDirectory(name)
	cfg, err := s.Orgs.ConfigurationForDirectory(ctx, directory)
	if err != nil {
		return err
	}
	if cfg == nil {
		return nil
	}

	logger := s.Logger.WithFields(logrus.Fields{
		"file_name":       name,
		"organization_id": cfg.OrganizationID,
	})

	// Data provider parent files carry rows for many organizations and are
	// split into per-organization files before ingestion.
	if cfg.DataProvider && s.Flags.IsParentFileSplitEnabled() {
		logger.Info("skipping data provider parent file pending split")
		return nil
	}

	file, err := s.Files.CreateFile(ctx, cfg.OrganizationID, name)
	if err != nil {
		return errors.Wrap(err, "could not create file row")
	}
	if err := s.Files.SetFileStartedAt(ctx, file.ID, time.Now()); err != nil {
		return err
	}

	if err := s.processFile(ctx, file, cfg, logger); err != nil {
		if errors.Is(err, parser.ErrDelimiter) {
			logger.WithError(err).Error("file uses an unusable delimiter")
			return s.Files.SetFileError(ctx, file.ID, models.FileErrorDelimiter)
		}
		logger.WithError(err).Error("file ingestion failed")
		if setErr := s.Files.SetFileError(ctx, file.ID, models.FileErrorUnknown); setErr != nil {
			logger.WithError(setErr).Error("could not record file error")
		}
		return err
	}

	return nil
}

func (s *Service) processFile(ctx context.Context, file *models.File, cfg *models.Configuration, logger logrus.FieldLogger) error {
	data, err := s.Fetcher.Fetch(ctx, file.Name)
	if err != nil || len(data) == 0 {
		if setErr := s.Files.SetFileError(ctx, file.ID, models.FileErrorMissing); setErr != nil {
			logger.WithError(setErr).Error("could not record file error")
		}
		if err != nil {
			logger.WithError(err).Error("could not fetch file")
			return nil
		}
		logger.Error("file is empty")
		return nil
	}

	encoding := DetectEncoding(data)
	if err := s.Files.SetFileEncoding(ctx, file.ID, encoding); err != nil {
		return err
	}

	headers, err := s.Orgs.HeaderMapping(ctx, cfg.OrganizationID)
	if err != nil {
		return err
	}

	iterator, err := parser.NewCSVReader(headers, data, encoding).Open()
	if err != nil {
		return err
	}

	ingestionTS := time.Now()
	total, batchIndex := 0, 0
	err = parser.Batches(iterator, constants.IngestBatchSize, func(batch []parser.Row) error {
		messages := make([]pubsub.Message, 0, len(batch))
		for i, row := range batch {
			record := make(map[string]interface{}, len(row.Fields))
			for k, v := range row.Fields {
				record[k] = v
			}
			msg, err := pubsub.NewMessage(models.UnprocessedMessage{
				Metadata: models.Metadata{
					FileID:         file.ID,
					OrganizationID: cfg.OrganizationID,
					Identifier:     file.Name,
					Index:          batchIndex*constants.IngestBatchSize + i,
					Type:           models.IngestionTypeFile,
					IngestionTS:    ingestionTS,
					DataProvider:   cfg.DataProvider,
				},
				Record: record,
				Extra:  row.Extra,
			}, nil)
			if err != nil {
				return err
			}
			messages = append(messages, msg)
		}
		total += len(batch)
		batchIndex++
		return s.Queue.Publish(ctx, messages...)
	})
	if err != nil {
		return err
	}

	if err := s.Counters.Set(ctx, file.ID, constants.FileCountCacheKey, int64(total)); err != nil {
		return err
	}

	logger.WithField("num_rows", total).Info("file ingested")
	return nil
}

// DetectEncoding inspects the byte order mark. Files without one are assumed
// to already be utf-8.
func DetectEncoding(data []byte) string {
	_, enc := utfbom.Skip(bytes.NewReader(data))
	switch enc {
	case utfbom.UTF16BigEndian, utfbom.UTF16LittleEndian:
		return "utf-16"
	case utfbom.UTF32BigEndian, utfbom.UTF32LittleEndian:
		return "utf-32"
	default:
		return constants.DefaultEncoding
	}
}

func uploadDirectory(name string) string {
	name = strings.TrimPrefix(name, "s3://")
	if i := strings.Index(name, "/"); i >= 0 {
		return name[:i]
	}
	return name
}
