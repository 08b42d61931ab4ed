package events

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"

	"jcm-p2p-backend/internal/config"
	"jcm-p2p-backend/internal/models"
	"jcm-p2p-backend/internal/store"
)

type sentEvent struct {
	topic, key string
	payload    []byte
}

type fakePublisher struct {
	sent    []sentEvent
	failOn  string
	failErr error
	onFail  func()
}

func (f *fakePublisher) Publish(_ context.Context, topic, key string, payload []byte) error {
	if topic == f.failOn {
		if f.onFail != nil {
			f.onFail()
		}
		if f.failErr != nil {
			return f.failErr
		}
		return errors.New("broker down")
	}
	f.sent = append(f.sent, sentEvent{topic, key, payload})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := store.Open(config.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:", MaxOpenConns: 1}, zap.NewNop())
	require.NoError(t, err)
	_, err = store.Migrate(db, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(db) })
	return db
}

func TestEnqueueIsRolledBackWithTransaction(t *testing.T) {
	db := setupDB(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, Enqueue(tx, "t.one", "k", map[string]int{"n": 1}))
		return errors.New("abort")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestRelayOncePublishesInOrder(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, Enqueue(db, "t.one", "a", map[string]int{"n": 1}))
	require.NoError(t, Enqueue(db, "t.two", "b", map[string]int{"n": 2}))

	pub := &fakePublisher{}
	relay := NewRelay(db, pub, zap.NewNop(), 0)

	n, err := relay.RelayOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Len(t, pub.sent, 2)
	require.Equal(t, "t.one", pub.sent[0].topic)
	require.Equal(t, "a", pub.sent[0].key)
	require.JSONEq(t, `{"n":1}`, string(pub.sent[0].payload))

	n, err = relay.RelayOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, pub.sent, 2)
}

func TestRelayStopsAtFirstFailure(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, Enqueue(db, "t.bad", "a", 1))
	require.NoError(t, Enqueue(db, "t.good", "b", 2))

	pub := &fakePublisher{failOn: "t.bad"}
	n, err := NewRelay(db, pub, zap.NewNop(), 0).RelayOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Empty(t, pub.sent)

	var ev models.OutboxEvent
	require.NoError(t, db.Where("topic = ?", "t.bad").First(&ev).Error)
	require.Equal(t, 1, ev.Attempts)
	require.Equal(t, "broker down", ev.LastError)
	require.Nil(t, ev.PublishedAt)
}

func TestRelayKeepsLastErrorValidUTF8(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, Enqueue(db, "t.bad", "a", 1))

	pub := &fakePublisher{failOn: "t.bad", failErr: errors.New("x" + strings.Repeat("ü", 200))}
	_, err := NewRelay(db, pub, zap.NewNop(), 0).RelayOnce(context.Background())
	require.NoError(t, err)

	var ev models.OutboxEvent
	require.NoError(t, db.First(&ev).Error)
	require.True(t, utf8.ValidString(ev.LastError))
	require.LessOrEqual(t, len(ev.LastError), maxErrorLen)
}

func TestRelayLogsWhenFailureCannotBeRecorded(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, Enqueue(db, "t.bad", "a", 1))

	core, logs := observer.New(zap.WarnLevel)
	pub := &fakePublisher{failOn: "t.bad", onFail: func() {
		require.NoError(t, db.Exec("DROP TABLE outbox_events").Error)
	}}
	_, err := NewRelay(db, pub, zap.New(core), 0).RelayOnce(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, logs.FilterMessage("outbox publish failed").Len())
	require.Equal(t, 1, logs.FilterMessage("record outbox failure").Len())
}
