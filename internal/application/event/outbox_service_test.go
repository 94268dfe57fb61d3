package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/faithflows/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memoryOutbox is an in-memory OutboxRepository
type memoryOutbox struct {
	entries  []*shared.OutboxEntry
	countErr error
}

func (r *memoryOutbox) Save(_ context.Context, entries ...*shared.OutboxEntry) error {
	r.entries = append(r.entries, entries...)
	return nil
}

func (r *memoryOutbox) FindPending(context.Context, int) ([]*shared.OutboxEntry, error) {
	return nil, nil
}

func (r *memoryOutbox) FindRetryable(context.Context, time.Time, int) ([]*shared.OutboxEntry, error) {
	return nil, nil
}

func (r *memoryOutbox) FindDead(_ context.Context, page, pageSize int) ([]*shared.OutboxEntry, int64, error) {
	var dead []*shared.OutboxEntry
	for _, e := range r.entries {
		if e.IsDead() {
			copied := *e
			dead = append(dead, &copied)
		}
	}
	start := min((page-1)*pageSize, len(dead))
	end := min(start+pageSize, len(dead))
	return dead[start:end], int64(len(dead)), nil
}

func (r *memoryOutbox) FindByID(_ context.Context, id uuid.UUID) (*shared.OutboxEntry, error) {
	for _, e := range r.entries {
		if e.ID == id {
			copied := *e
			return &copied, nil
		}
	}
	return nil, shared.ErrOutboxEntryNotFound
}

func (r *memoryOutbox) MarkProcessing(context.Context, []uuid.UUID) ([]*shared.OutboxEntry, error) {
	return nil, nil
}

func (r *memoryOutbox) Update(_ context.Context, entry *shared.OutboxEntry) error {
	for i, e := range r.entries {
		if e.ID == entry.ID {
			r.entries[i] = entry
			return nil
		}
	}
	return shared.ErrOutboxEntryNotFound
}

func (r *memoryOutbox) DeleteOlderThan(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *memoryOutbox) CountByStatus(context.Context) (map[shared.OutboxStatus]int64, error) {
	if r.countErr != nil {
		return nil, r.countErr
	}
	counts := make(map[shared.OutboxStatus]int64)
	for _, e := range r.entries {
		counts[e.Status]++
	}
	return counts, nil
}

func seedOutbox(statuses ...shared.OutboxStatus) *memoryOutbox {
	repo := &memoryOutbox{}
	for _, status := range statuses {
		repo.entries = append(repo.entries, &shared.OutboxEntry{
			ID:         uuid.New(),
			TenantID:   42,
			EventType:  "TenantSuspended",
			Status:     status,
			RetryCount: 5,
			MaxRetries: 5,
			LastError:  "handler failed",
		})
	}
	return repo
}

func TestOutboxService_DeadLetters(t *testing.T) {
	repo := seedOutbox(shared.OutboxStatusDead, shared.OutboxStatusDead, shared.OutboxStatusDead, shared.OutboxStatusSent)
	svc := NewOutboxService(repo, zap.NewNop())

	result, err := svc.DeadLetters(context.Background(), OutboxFilter{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Total)
	assert.Equal(t, 2, result.TotalPages)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "DEAD", result.Items[0].Status)

	result, err = svc.DeadLetters(context.Background(), OutboxFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Page)
	assert.Equal(t, 20, result.PageSize)
}

func TestOutboxService_Retry(t *testing.T) {
	repo := seedOutbox(shared.OutboxStatusDead, shared.OutboxStatusSent)
	svc := NewOutboxService(repo, zap.NewNop())
	ctx := context.Background()

	dto, err := svc.Retry(ctx, repo.entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "PENDING", dto.Status)
	assert.Zero(t, dto.RetryCount)
	assert.Equal(t, shared.OutboxStatusPending, repo.entries[0].Status)

	_, err = svc.Retry(ctx, repo.entries[1].ID)
	var de *shared.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "INVALID_STATE", de.Code)

	_, err = svc.Retry(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrOutboxEntryNotFound)
}

func TestOutboxService_RetryAll(t *testing.T) {
	statuses := make([]shared.OutboxStatus, 0, 150)
	for range 150 {
		statuses = append(statuses, shared.OutboxStatusDead)
	}
	repo := seedOutbox(append(statuses, shared.OutboxStatusFailed)...)
	svc := NewOutboxService(repo, zap.NewNop())

	count, err := svc.RetryAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(150), count)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Dead)
	assert.Equal(t, int64(150), stats.Pending)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(151), stats.Total)
}

func TestOutboxService_StatsError(t *testing.T) {
	repo := &memoryOutbox{countErr: errors.New("connection reset")}
	_, err := NewOutboxService(repo, zap.NewNop()).Stats(context.Background())
	assert.ErrorContains(t, err, "connection reset")
}
