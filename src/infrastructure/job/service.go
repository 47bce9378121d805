package job

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"docqa/src/core/rag"
)

// Topic is the queue jobs are published to and consumed from
const Topic = "jobs"

// Indexer runs the indexing pipeline for one document
type Indexer interface {
	Index(ctx context.Context, filename string, opts ...rag.IndexOption) (int, error)
}

type JobService struct {
	publisher message.Publisher
	repo      JobRepository
	logger    watermill.LoggerAdapter
	indexer   Indexer
}

type JobMessage struct {
	JobID    int             `json:"job_id"`
	TaskType string          `json:"task_type"`
	Payload  json.RawMessage `json:"payload"`
}

func NewJobService(
	publisher message.Publisher,
	repo JobRepository,
	logger watermill.LoggerAdapter,
	indexer Indexer,
) *JobService {
	return &JobService{
		publisher: publisher,
		repo:      repo,
		logger:    logger,
		indexer:   indexer,
	}
}

// EnqueueJob creates a new job and publishes it to the message queue
func (s *JobService) EnqueueJob(ctx context.Context, taskType string, payload json.RawMessage) (*Job, error) {
	job, err := s.repo.Create(ctx, taskType, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	jobMsg := JobMessage{
		JobID:    job.ID,
		TaskType: job.TaskType,
		Payload:  job.Payload,
	}

	msgPayload, err := json.Marshal(jobMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job message: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), msgPayload)
	if err := s.publisher.Publish(Topic, msg); err != nil {
		return nil, fmt.Errorf("failed to publish job message: %w", err)
	}

	return job, nil
}

// EnqueueIndex schedules indexing of an uploaded document
func (s *JobService) EnqueueIndex(ctx context.Context, filename string) (*Job, error) {
	payload, err := json.Marshal(IndexPayload{Filename: filename})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal index payload: %w", err)
	}
	return s.EnqueueJob(ctx, TaskTypeIndexDocument, payload)
}

func (s *JobService) Get(ctx context.Context, id int) (*Job, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return nil, rag.NotFoundError("job %d not found", id)
	}
	return job, nil
}

// ProcessJobMessage processes a job message from the queue. Failures that a
// retry cannot fix are recorded on the job and acknowledged.
func (s *JobService) ProcessJobMessage(msg *message.Message) error {
	var jobMsg JobMessage
	if err := json.Unmarshal(msg.Payload, &jobMsg); err != nil {
		s.logger.Error("Dropping malformed job message", err, watermill.LogFields{
			"message_uuid": msg.UUID,
		})
		return nil
	}

	ctx := msg.Context()

	job, err := s.repo.Get(ctx, jobMsg.JobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job == nil {
		return fmt.Errorf("job not found: %d", jobMsg.JobID)
	}

	if err := s.repo.UpdateStatus(ctx, job.ID, JobStatusRunning, nil, nil); err != nil {
		return fmt.Errorf("failed to update job status to running: %w", err)
	}

	result, err := s.processJob(ctx, job)
	if err != nil {
		errStr := err.Error()
		if updateErr := s.repo.UpdateStatus(ctx, job.ID, JobStatusFailed, nil, &errStr); updateErr != nil {
			s.logger.Error("Failed to update job status to failed", updateErr, watermill.LogFields{
				"job_id": job.ID,
			})
		}
		if permanent(err) {
			s.logger.Info("Job failed permanently", watermill.LogFields{
				"job_id": job.ID,
				"error":  errStr,
			})
			return nil
		}
		return fmt.Errorf("failed to process job: %w", err)
	}

	if err := s.repo.UpdateStatus(ctx, job.ID, JobStatusCompleted, result, nil); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}

	return nil
}

// processJob handles different types of jobs
func (s *JobService) processJob(ctx context.Context, job *Job) (json.RawMessage, error) {
	switch job.TaskType {
	case TaskTypeIndexDocument:
		var payload IndexPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, rag.ValidationError("invalid index payload: %v", err)
		}
		n, err := s.indexer.Index(ctx, payload.Filename, rag.WithProgress(func(done, total int) {
			s.logger.Debug("Embedding progress", watermill.LogFields{
				"job_id": job.ID,
				"done":   done,
				"total":  total,
			})
		}))
		if err != nil {
			return nil, err
		}
		return json.Marshal(IndexResult{NumChunks: n})
	default:
		return nil, rag.ValidationError("unknown task type: %s", job.TaskType)
	}
}

func permanent(err error) bool {
	switch rag.KindOf(err) {
	case rag.KindValidation, rag.KindNotFound, rag.KindExtraction:
		return true
	}
	return false
}
