package worker

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/havenhealth/eligibility-app/eligibility/ingest"
	"github.com/havenhealth/eligibility-app/eligibility/models"
	"github.com/havenhealth/eligibility-app/eligibility/persist"
	"github.com/havenhealth/eligibility-app/eligibility/pubsub"
	"github.com/havenhealth/eligibility-app/eligibility/transform"
)

// UploadNotice announces a newly uploaded census file.
type UploadNotice struct {
	Name string `json:"name"`
}

// IngestStage reads upload notices and runs the ingest service per file.
type IngestStage struct {
	Ingest *ingest.Service
	Logger logrus.FieldLogger
}

func (s *IngestStage) Handle(ctx context.Context, messages []pubsub.Message) error {
	for _, msg := range messages {
		var notice UploadNotice
		if err := msg.Decode(&notice); err != nil {
			// A malformed notice never becomes valid; log and drop it.
			s.Logger.WithError(err).WithField("message_id", msg.ID).Error("dropping undecodable upload notice")
			continue
		}
		if err := s.Ingest.ProcessFile(ctx, notice.Name); err != nil {
			return err
		}
	}
	return nil
}

// TransformStage parses raw records and publishes the results downstream.
type TransformStage struct {
	Transform *transform.Service
	Out       pubsub.Publisher
	Logger    logrus.FieldLogger
}

func (s *TransformStage) Handle(ctx context.Context, messages []pubsub.Message) error {
	var out []pubsub.Message
	for _, msg := range messages {
		var raw models.UnprocessedMessage
		if err := msg.Decode(&raw); err != nil {
			s.Logger.WithError(err).WithField("message_id", msg.ID).Error("dropping undecodable record")
			continue
		}
		processed, err := s.Transform.Process(ctx, raw)
		if err != nil {
			// Failures are contained per record; the batch still acks.
			s.Logger.WithError(err).WithFields(logrus.Fields{
				"message_id": msg.ID,
				"file_id":    raw.Metadata.FileID,
			}).Error("dropping record that failed transformation")
			continue
		}
		if processed == nil {
			continue
		}
		encoded, err := pubsub.NewMessage(processed, msg.Attributes)
		if err != nil {
			return err
		}
		out = append(out, encoded)
	}
	if len(out) == 0 {
		return nil
	}
	return s.Out.Publish(ctx, out...)
}

// PersistStage stages parsed records and completes files.
type PersistStage struct {
	Persist *persist.Service
	Logger  logrus.FieldLogger
}

func (s *PersistStage) Handle(ctx context.Context, messages []pubsub.Message) error {
	batch := make([]models.ProcessedMessage, 0, len(messages))
	for _, msg := range messages {
		var processed models.ProcessedMessage
		if err := msg.Decode(&processed); err != nil {
			s.Logger.WithError(err).WithField("message_id", msg.ID).Error("dropping undecodable record")
			continue
		}
		batch = append(batch, processed)
	}
	if len(batch) == 0 {
		return nil
	}
	return s.Persist.ProcessBatch(ctx, batch)
}
