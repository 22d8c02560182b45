package persist

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/havenhealth/eligibility-app/eligibility/constants"
)

// Operator actions against a quarantined file. Multiple actions on one file
// always run in this order: clear errors, expire missing members, persist,
// purge.
const (
	ActionClearErrors      = "clear_errors"
	ActionPersistMissing   = "persist_missing"
	ActionPersistAsMembers = "persist_as_members"
	ActionPurgeAll         = "purge_all"
)

var actionOrder = []string{ActionClearErrors, ActionPersistMissing, ActionPersistAsMembers, ActionPurgeAll}

// FileActionResult pairs a file with the outcome of its actions.
type FileActionResult struct {
	FileID int64
	Err    error
}

// ProcessFileActions applies the requested operator actions to a file and
// marks it completed.
func (s *Service) ProcessFileActions(ctx context.Context, fileID int64, actions []string) error {
	requested := make(map[string]bool, len(actions))
	for _, action := range actions {
		switch action {
		case ActionClearErrors, ActionPersistMissing, ActionPersistAsMembers, ActionPurgeAll:
			requested[action] = true
		default:
			return errors.Errorf("unknown file action %q", action)
		}
	}

	file, err := s.Files.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if file == nil {
		return errors.Errorf("file %d not found", fileID)
	}

	logger := s.Logger.WithFields(map[string]interface{}{
		"file_id":         fileID,
		"organization_id": file.OrganizationID,
	})

	for _, action := range actionOrder {
		if !requested[action] {
			continue
		}
		switch action {
		case ActionClearErrors:
			count, err := s.Staging.DeleteParseErrors(ctx, fileID)
			if err != nil {
				return errors.Wrapf(err, "could not clear errors for file %d", fileID)
			}
			logger.WithField("num_deleted", count).Info("cleared parse errors")
		case ActionPersistMissing:
			count, err := s.Staging.ExpireMissingMembers(ctx, file)
			if err != nil {
				return errors.Wrapf(err, "could not expire missing members for file %d", fileID)
			}
			logger.WithField("num_expired", count).Info("expired missing members")
		case ActionPersistAsMembers:
			count, err := s.Staging.FlushFile(ctx, file)
			if err != nil {
				return errors.Wrapf(err, "could not persist file %d", fileID)
			}
			logger.WithField("num_promoted", count).Info("persisted staged records")
		case ActionPurgeAll:
			if _, err := s.Staging.DeleteParseErrors(ctx, fileID); err != nil {
				return errors.Wrapf(err, "could not purge errors for file %d", fileID)
			}
			if _, err := s.Staging.DeleteParseResults(ctx, fileID); err != nil {
				return errors.Wrapf(err, "could not purge results for file %d", fileID)
			}
			logger.Info("purged staged records")
		}
	}

	file, err = s.Files.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	if file.CompletedAt == nil {
		if err := s.Files.SetFileCompletedAt(ctx, fileID, time.Now()); err != nil {
			return err
		}
	}

	return nil
}

// BulkFileActions runs the same actions over many files with bounded
// concurrency, reporting per-file outcomes.
func (s *Service) BulkFileActions(ctx context.Context, fileIDs []int64, actions []string) []FileActionResult {
	sem := semaphore.NewWeighted(constants.BulkFileActionConcurrency)
	results := make([]FileActionResult, len(fileIDs))

	var wg sync.WaitGroup
	for i, fileID := range fileIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = FileActionResult{FileID: fileID, Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, fileID int64) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = FileActionResult{FileID: fileID, Err: s.ProcessFileActions(ctx, fileID, actions)}
		}(i, fileID)
	}
	wg.Wait()

	return results
}
