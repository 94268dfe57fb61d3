package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/faithflows/backend/internal/domain/shared"
	"github.com/faithflows/backend/internal/domain/tenancy"
	"github.com/faithflows/backend/internal/infrastructure/event"
	"github.com/faithflows/backend/internal/infrastructure/partition"
	"github.com/faithflows/backend/internal/infrastructure/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutbox_ConcurrentClaimsNeverOverlap(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tdb := NewSharedTestDB(t)
	tdb.CleanTables()
	t.Cleanup(tdb.CleanTables)
	ctx := context.Background()

	serializer := event.NewEventSerializer()
	event.RegisterLifecycleEvents(serializer)
	publisher := event.NewOutboxPublisher(serializer)

	tn, err := tenancy.NewTenant(snowflake.ID(5001), "zion", "Church zion", "zion@example.org", time.Now().UTC())
	require.NoError(t, err)

	const total = 40
	events := make([]shared.DomainEvent, total)
	for i := range events {
		events[i] = tenancy.NewTenantSuspendedEvent(tn, "unpaid", time.Now())
	}
	require.NoError(t, publisher.Bind(tdb.DB).Publish(ctx, events...))

	repo := event.NewGormOutboxRepository(tdb.DB)
	pending, err := repo.FindPending(ctx, total)
	require.NoError(t, err)
	require.Len(t, pending, total)
	ids := make([]uuid.UUID, len(pending))
	for i, e := range pending {
		ids[i] = e.ID
	}

	const workers = 4
	var (
		mu      sync.Mutex
		claimed = map[uuid.UUID]int{}
		wg      sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := repo.MarkProcessing(ctx, ids)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			for _, e := range got {
				claimed[e.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, total)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "entry %s claimed more than once", id)
	}

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(total), counts[shared.OutboxStatusProcessing])
}

func TestOutbox_LifecycleEventsCommitWithDirectoryChange(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tdb := NewSharedTestDB(t)
	tdb.CleanTables()
	t.Cleanup(tdb.CleanTables)
	ctx := context.Background()

	serializer := event.NewEventSerializer()
	event.RegisterLifecycleEvents(serializer)

	repo := persistence.NewGormTenantRepository(tdb.DB, partition.NewSchemaStrategy())
	repo.SetOutboxEventSaver(event.NewOutboxPublisher(serializer))

	tn := createSchemaTenant(t, repo, 6001, "shiloh")
	require.NoError(t, tn.Suspend("unpaid", time.Now()))
	require.NoError(t, repo.Save(ctx, tn))
	assert.Empty(t, tn.GetDomainEvents())

	bus := event.NewInMemoryEventBus(nil)
	outbox := event.NewGormOutboxRepository(tdb.DB)
	processor := event.NewOutboxProcessor(outbox, bus, serializer, event.OutboxProcessorConfig{}, nil)
	assert.Positive(t, processor.Drain(ctx))

	counts, err := outbox.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts[shared.OutboxStatusPending])
	assert.Positive(t, counts[shared.OutboxStatusSent])
}
