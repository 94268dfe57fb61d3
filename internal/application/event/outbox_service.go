package event

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/faithflows/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OutboxService lets operators inspect the lifecycle event outbox and
// requeue dead letters
type OutboxService struct {
	repo   shared.OutboxRepository
	logger *zap.Logger
}

// NewOutboxService creates a new outbox service
func NewOutboxService(repo shared.OutboxRepository, logger *zap.Logger) *OutboxService {
	return &OutboxService{
		repo:   repo,
		logger: logger,
	}
}

// OutboxEntryDTO is an outbox entry without its payload
type OutboxEntryDTO struct {
	ID            uuid.UUID    `json:"id"`
	TenantID      snowflake.ID `json:"tenant_id" swaggertype:"string"`
	EventID       uuid.UUID    `json:"event_id"`
	EventType     string       `json:"event_type"`
	AggregateID   snowflake.ID `json:"aggregate_id" swaggertype:"string"`
	AggregateType string       `json:"aggregate_type"`
	Status        string       `json:"status"`
	RetryCount    int          `json:"retry_count"`
	MaxRetries    int          `json:"max_retries"`
	LastError     string       `json:"last_error,omitempty"`
	NextRetryAt   *time.Time   `json:"next_retry_at,omitempty"`
	ProcessedAt   *time.Time   `json:"processed_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// OutboxFilter pages through dead letters
type OutboxFilter struct {
	Page     int `form:"page,omitempty" binding:"omitempty,min=1"`
	PageSize int `form:"page_size,omitempty" binding:"omitempty,min=1,max=100"`
}

// OutboxStatsDTO counts entries per status
type OutboxStatsDTO struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Failed     int64 `json:"failed"`
	Dead       int64 `json:"dead"`
	Total      int64 `json:"total"`
}

// DeadLetters lists dead entries, most recently failed first
func (s *OutboxService) DeadLetters(ctx context.Context, filter OutboxFilter) (*shared.Paginated[OutboxEntryDTO], error) {
	page := max(filter.Page, 1)
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	pageSize = min(pageSize, 100)

	entries, total, err := s.repo.FindDead(ctx, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("find dead letters: %w", err)
	}

	items := make([]OutboxEntryDTO, len(entries))
	for i, entry := range entries {
		items[i] = ToOutboxEntryDTO(entry)
	}
	result := shared.NewPaginated(items, total, page, pageSize)
	return &result, nil
}

// Entry returns one outbox entry
func (s *OutboxService) Entry(ctx context.Context, id uuid.UUID) (*OutboxEntryDTO, error) {
	entry, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	dto := ToOutboxEntryDTO(entry)
	return &dto, nil
}

// Retry puts a dead entry back in the queue
func (s *OutboxService) Retry(ctx context.Context, id uuid.UUID) (*OutboxEntryDTO, error) {
	entry, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := entry.ResetForRetry(); err != nil {
		return nil, shared.NewDomainError("INVALID_STATE", err.Error())
	}
	if err := s.repo.Update(ctx, entry); err != nil {
		return nil, fmt.Errorf("requeue outbox entry %s: %w", id, err)
	}

	s.logger.Info("Dead letter requeued",
		zap.String("id", id.String()),
		zap.String("event_type", entry.EventType),
		zap.String("tenant_id", entry.TenantID.String()))

	dto := ToOutboxEntryDTO(entry)
	return &dto, nil
}

// RetryAll requeues every dead entry and returns how many were requeued
func (s *OutboxService) RetryAll(ctx context.Context) (int64, error) {
	const batch = 100
	var count int64
	for {
		// requeued entries leave the dead set, so the first page is always next
		entries, _, err := s.repo.FindDead(ctx, 1, batch)
		if err != nil {
			return count, fmt.Errorf("find dead letters: %w", err)
		}
		requeued := 0
		for _, entry := range entries {
			if err := entry.ResetForRetry(); err != nil {
				continue
			}
			if err := s.repo.Update(ctx, entry); err != nil {
				s.logger.Error("Failed to requeue outbox entry", zap.String("id", entry.ID.String()), zap.Error(err))
				continue
			}
			requeued++
		}
		count += int64(requeued)
		if len(entries) < batch || requeued == 0 {
			break
		}
	}

	s.logger.Info("Dead letters requeued", zap.Int64("count", count))
	return count, nil
}

// Stats counts entries per status
func (s *OutboxService) Stats(ctx context.Context) (*OutboxStatsDTO, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count outbox entries: %w", err)
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	return &OutboxStatsDTO{
		Pending:    counts[shared.OutboxStatusPending],
		Processing: counts[shared.OutboxStatusProcessing],
		Sent:       counts[shared.OutboxStatusSent],
		Failed:     counts[shared.OutboxStatusFailed],
		Dead:       counts[shared.OutboxStatusDead],
		Total:      total,
	}, nil
}

// ToOutboxEntryDTO converts an outbox entry to its DTO
func ToOutboxEntryDTO(entry *shared.OutboxEntry) OutboxEntryDTO {
	return OutboxEntryDTO{
		ID:            entry.ID,
		TenantID:      entry.TenantID,
		EventID:       entry.EventID,
		EventType:     entry.EventType,
		AggregateID:   entry.AggregateID,
		AggregateType: entry.AggregateType,
		Status:        string(entry.Status),
		RetryCount:    entry.RetryCount,
		MaxRetries:    entry.MaxRetries,
		LastError:     entry.LastError,
		NextRetryAt:   entry.NextRetryAt,
		ProcessedAt:   entry.ProcessedAt,
		CreatedAt:     entry.CreatedAt,
		UpdatedAt:     entry.UpdatedAt,
	}
}
