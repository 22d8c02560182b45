// Package persist writes transformed records to staging, promotes completed
// files to the canonical member table, and quarantines suspicious files for
// review.
package persist

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/havenhealth/eligibility-app/eligibility/cache"
	"github.com/havenhealth/eligibility-app/eligibility/constants"
	"github.com/havenhealth/eligibility-app/eligibility/featureflag"
	"github.com/havenhealth/eligibility-app/eligibility/models"
)

type Service struct {
	Files    models.FileRepository
	Staging  models.StagingRepository
	Members  models.MemberRepository
	Counters cache.CounterStore
	Flags    featureflag.FeatureFlags
	Logger   logrus.FieldLogger

	rowCounts *cache.TTLCache
}

func New(files models.FileRepository, staging models.StagingRepository, members models.MemberRepository,
	counters cache.CounterStore, flags featureflag.FeatureFlags, logger logrus.FieldLogger) *Service {

	return &Service{
		Files:     files,
		Staging:   staging,
		Members:   members,
		Counters:  counters,
		Flags:     flags,
		Logger:    logger,
		rowCounts: cache.NewTTLCache(constants.RowCountCacheTTLSeconds*time.Second, constants.RowCountCacheMaxSize),
	}
}

// ProcessBatch persists one batch of transformed messages. Stream records go
// straight to the canonical table; file records are staged and counted, and
// the file is finalized once every row has been accounted for.
func (s *Service) ProcessBatch(ctx context.Context, messages []models.ProcessedMessage) error {
	var external []*models.ExternalRecordAndAddress
	valid := map[int64][]*models.ParsedRecord{}
	errored := map[int64][]*models.ParsedRecord{}

	for i := range messages {
		msg := &messages[i]
		if msg.Metadata.Type == models.IngestionTypeStream {
			external = append(external, externalRecord(msg))
			continue
		}
		fileID := msg.Metadata.FileID
		if msg.Record.Valid() {
			valid[fileID] = append(valid[fileID], msg.Record)
		} else {
			errored[fileID] = append(errored[fileID], msg.Record)
		}
	}

	if len(external) > 0 {
		if s.Flags.IsWriteDisabled() {
			s.Logger.WithField("count", len(external)).Warn("member writes are disabled, dropping stream records")
		} else if _, err := s.Members.UpsertExternalRecords(ctx, external); err != nil {
			return errors.Wrap(err, "could not upsert stream records")
		}
	}

	fileIDs := map[int64]struct{}{}
	for fileID := range valid {
		fileIDs[fileID] = struct{}{}
	}
	for fileID := range errored {
		fileIDs[fileID] = struct{}{}
	}

	for fileID := range fileIDs {
		var success, failures int64
		var err error

		if records := valid[fileID]; len(records) > 0 {
			if _, err := s.Staging.PersistParseResults(ctx, records); err != nil {
				return errors.Wrapf(err, "could not stage parse results for file %d", fileID)
			}
			success, err = s.Counters.IncrBy(ctx, fileID, constants.FileCountSuccessCacheKey, int64(len(records)))
			if err != nil {
				return err
			}
		} else if success, err = s.Counters.Get(ctx, fileID, constants.FileCountSuccessCacheKey); err != nil {
			return err
		}

		if records := errored[fileID]; len(records) > 0 {
			if _, err := s.Staging.PersistParseErrors(ctx, records); err != nil {
				return errors.Wrapf(err, "could not stage parse errors for file %d", fileID)
			}
			failures, err = s.Counters.IncrBy(ctx, fileID, constants.FileCountErrorCacheKey, int64(len(records)))
			if err != nil {
				return err
			}
		} else if failures, err = s.Counters.Get(ctx, fileID, constants.FileCountErrorCacheKey); err != nil {
			return err
		}

		rows, err := s.numRows(ctx, fileID)
		if err != nil {
			return err
		}
		if rows > 0 && success+failures >= rows {
			if err := s.completeFile(ctx, fileID, rows, success, failures); err != nil {
				return err
			}
		}
	}

	return nil
}

// numRows reads the file's expected row count, memoizing it briefly so a
// large file does not hammer the counter store.
func (s *Service) numRows(ctx context.Context, fileID int64) (int64, error) {
	key := constants.FileCountCacheKey
	cacheKey := counterCacheKey(fileID)
	if v, ok := s.rowCounts.Get(cacheKey); ok {
		n, _ := v.(int64)
		return n, nil
	}

	n, err := s.Counters.Get(ctx, fileID, key)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.rowCounts.Set(cacheKey, n)
	}
	return n, nil
}

func counterCacheKey(fileID int64) string {
	return constants.FileCountCacheKey + ":" + strconv.FormatInt(fileID, 10)
}

// completeFile finalizes a fully accounted file: records its counts, then
// either promotes it or leaves it quarantined for operator review. Counters
// are deleted either way.
func (s *Service) completeFile(ctx context.Context, fileID, rows, success, failures int64) error {
	file, err := s.Files.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if file == nil {
		return errors.Errorf("file %d not found", fileID)
	}

	logger := s.Logger.WithFields(logrus.Fields{
		"file_id":         fileID,
		"organization_id": file.OrganizationID,
		"num_rows":        rows,
		"num_success":     success,
		"num_error":       failures,
	})

	if err := s.Files.SetFileCounts(ctx, fileID, int(rows), int(success), int(failures)); err != nil {
		return err
	}

	review, reason, err := s.shouldReview(ctx, file, rows, success)
	if err != nil {
		return err
	}
	if review {
		logger.WithField("reason", reason).Warn("file quarantined for review")
	} else {
		count, err := s.Staging.FlushFile(ctx, file)
		if err != nil {
			return errors.Wrapf(err, "could not flush file %d", fileID)
		}
		logger.WithField("num_promoted", count).Info("file completed")
	}

	if err := s.Counters.DeleteFile(ctx, fileID); err != nil {
		logger.WithError(err).Warn("could not delete file counters")
	}
	s.rowCounts.Delete(counterCacheKey(fileID))

	return nil
}

// shouldReview applies the two quarantine checks: the file's own success
// rate, and its success count relative to the organization's previous file.
func (s *Service) shouldReview(ctx context.Context, file *models.File, rows, success int64) (bool, string, error) {
	if float64(success)/float64(rows) <= constants.ReviewThreshold {
		return true, "success rate at or below threshold", nil
	}

	previous, err := s.Staging.GetSuccessCountFromPreviousFile(ctx, file.OrganizationID)
	if err != nil {
		return false, "", err
	}
	if previous > 0 && float64(success)/float64(previous) < constants.ReviewThresholdPreviousFile {
		return true, "too few valid records compared to previous file", nil
	}

	return false, "", nil
}

func externalRecord(msg *models.ProcessedMessage) *models.ExternalRecordAndAddress {
	rec := msg.Record
	externalID, _ := rec.Record["external_id"].(string)
	source, _ := rec.Record["source"].(string)
	return &models.ExternalRecordAndAddress{
		Record: &models.ExternalRecord{
			OrganizationID:     rec.OrganizationID,
			FirstName:          rec.FirstName,
			LastName:           rec.LastName,
			Email:              rec.Email,
			UniqueCorpID:       rec.UniqueCorpID,
			DependentID:        rec.DependentID,
			DateOfBirth:        rec.DateOfBirth,
			WorkState:          rec.WorkState,
			EmployerAssignedID: rec.EmployerAssignedID,
			EffectiveRange:     rec.EffectiveRange,
			DoNotContact:       rec.DoNotContact,
			GenderCode:         rec.GenderCode,
			ExternalID:         externalID,
			Source:             source,
			Record:             rec.Record,
			CustomAttributes:   rec.CustomAttributes,
			HashValue:          rec.HashValue,
			HashVersion:        rec.HashVersion,
		},
		Address: msg.Address,
	}
}
