package infrastructure

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"licence-server-go/internal/domain/eventbus"
	"licence-server-go/internal/domain/eventbus/repository"
	"licence-server-go/internal/platform/config"
	"licence-server-go/internal/platform/storage"
)

var dbSeq atomic.Int64

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := storage.Open(config.DatabaseConfig{
		DSN:          fmt.Sprintf("file:events-test-%d?mode=memory&cache=shared", dbSeq.Add(1)),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })
	_, err = storage.Migrate(db)
	require.NoError(t, err)
	return db
}

func TestEventRepository_StoreAndQuery(t *testing.T) {
	repo := NewEventRepository(setupDB(t))
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	events := []repository.Event{
		{EventType: eventbus.EventLicenceIssued, LicenceKey: "k1", Data: map[string]any{"max_bind_ids": 3}, CreatedAt: base},
		{EventType: eventbus.EventBindAdmitted, LicenceKey: "k1", PeerID: "p1", CreatedAt: base.Add(time.Minute)},
		{EventType: eventbus.EventBindAdmitted, LicenceKey: "k2", PeerID: "p2", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, ev := range events {
		require.NoError(t, repo.Store(ctx, ev))
	}

	byKey, err := repo.FindByLicenceKey(ctx, "k1")
	require.NoError(t, err)
	require.Len(t, byKey, 2)
	assert.Equal(t, eventbus.EventLicenceIssued, byKey[0].EventType)
	assert.EqualValues(t, 3, byKey[0].Data["max_bind_ids"])
	assert.Equal(t, "p1", byKey[1].PeerID)

	byType, err := repo.FindByEventType(ctx, eventbus.EventBindAdmitted, 1)
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "k2", byType[0].LicenceKey)

	recent, err := repo.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
	assert.Equal(t, "k2", recent[0].LicenceKey)

	stats, err := repo.GetEventStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats[eventbus.EventBindAdmitted])
	assert.Equal(t, int64(1), stats[eventbus.EventLicenceIssued])

	deleted, err := repo.DeleteOldEvents(ctx, base.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestRegisterAudit_PersistsPublishedEvents(t *testing.T) {
	repo := NewEventRepository(setupDB(t))
	bus := eventbus.NewAsyncEventBus(1, nil)
	bus.Start()
	defer bus.Stop()

	require.NoError(t, RegisterAudit(bus, repo, nil))

	eventbus.Emit(bus, eventbus.LicenceEvent{
		Type:       eventbus.EventBindRejected,
		LicenceKey: "k1",
		PeerID:     "p9",
		Detail:     map[string]any{"reason": "quota_exceeded"},
	})
	bus.Flush()

	got, err := repo.FindByLicenceKey(context.Background(), "k1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, eventbus.EventBindRejected, got[0].EventType)
	assert.Equal(t, "quota_exceeded", got[0].Data["reason"])
}
