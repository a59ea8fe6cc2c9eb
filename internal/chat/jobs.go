package chat

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/lifehub/internal/common"
)

// ErrJobNotFound is returned for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// ProcessJob runs the turn described by a queued job and records the
// outcome on the job row. Jobs that already finished are skipped so a
// redelivered message is harmless.
func (s *Service) ProcessJob(ctx context.Context, jobID string) error {
	start := s.now()

	if err := s.repo.UpdateJobStatusRunning(ctx, jobID); err != nil {
		return err
	}
	j, err := s.repo.GetJobByID(ctx, jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrJobNotFound
	}
	if err != nil {
		return err
	}
	if j.Status == JobSucceeded || j.Status == JobFailed {
		s.log.Info("job already finished", zap.String("job_id", jobID), zap.String("status", string(j.Status)))
		return nil
	}

	out, err := s.Converse(ctx, TurnRequest{UserID: j.UserID, ChatID: &j.ChatID, Text: j.Prompt})
	if err != nil {
		if markErr := s.repo.MarkJobFailed(ctx, jobID, err.Error()); markErr != nil {
			s.log.Error("mark job failed", zap.String("job_id", jobID), zap.Error(markErr))
		}
		return err
	}

	var msgID *string
	if out.Message != nil {
		msgID = &out.Message.ID
	}
	if err := s.repo.MarkJobSucceeded(ctx, jobID, msgID, out.Reply); err != nil {
		return err
	}

	if d := s.now().Sub(start); d > 2*time.Second {
		s.log.Info("slow job", zap.String("job_id", jobID), zap.Duration("total", d))
	}
	return nil
}

// CreateJob queues a turn for userID in an owned chat. With an idempotency
// key an earlier job for the same key is returned instead; created reports
// which happened.
func (s *Service) CreateJob(ctx context.Context, userID, chatID, prompt string, idempotencyKey *string) (job *Job, created bool, err error) {
	if _, err := s.ValidateChatOwner(ctx, userID, chatID); err != nil {
		return nil, false, err
	}
	id, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	return s.repo.CreateJobOrGetExisting(ctx, &Job{
		ID:             id,
		UserID:         userID,
		ChatID:         chatID,
		Prompt:         prompt,
		IdempotencyKey: idempotencyKey,
		Status:         JobQueued,
	})
}

// GetJob returns ErrJobNotFound unless userID owns the job.
func (s *Service) GetJob(ctx context.Context, userID, jobID string) (*Job, error) {
	j, err := s.repo.GetJobByID(ctx, jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if j.UserID != userID {
		return nil, ErrJobNotFound
	}
	return j, nil
}
