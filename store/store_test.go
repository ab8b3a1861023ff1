package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chorus/chat-service/models"
	"chorus/chat-service/services"
)

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type backend struct {
	name      string
	presence  func(t *testing.T) services.PresenceStore
	queue     func(t *testing.T) services.QueueStore
	directory func(t *testing.T) services.UserDirectory
}

func backends(t *testing.T) []backend {
	out := []backend{
		{
			name:      "memory",
			presence:  func(*testing.T) services.PresenceStore { return NewMemoryPresence() },
			queue:     func(*testing.T) services.QueueStore { return NewMemoryQueue() },
			directory: func(*testing.T) services.UserDirectory { return NewMemoryDirectory() },
		},
		{
			name:      "sqlite",
			presence:  func(t *testing.T) services.PresenceStore { return NewGormPresence(openSQLite(t)) },
			queue:     func(t *testing.T) services.QueueStore { return NewGormQueue(openSQLite(t)) },
			directory: func(t *testing.T) services.UserDirectory { return NewGormDirectory(openSQLite(t)) },
		},
	}

	if url := os.Getenv("REDIS_TEST_URL"); url != "" {
		out = append(out, backend{
			name:      "redis",
			presence:  func(t *testing.T) services.PresenceStore { c, p := openRedis(t, url); return NewRedisPresence(c, p) },
			queue:     func(t *testing.T) services.QueueStore { c, p := openRedis(t, url); return NewRedisQueue(c, p) },
			directory: func(t *testing.T) services.UserDirectory { c, p := openRedis(t, url); return NewRedisDirectory(c, p) },
		})
	}
	return out
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return db
}

func openRedis(t *testing.T, url string) (*redis.Client, string) {
	t.Helper()

	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	prefix := "test:" + uuid.NewString() + ":"

	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
		client.Close()
	})
	return client, prefix
}

func TestPresence_TouchTransitions(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			ps := b.presence(t)
			timeout := 30 * time.Second

			touch := func(at time.Time) bool {
				joined, err := ps.Touch(ctx, "alice", at, at.Add(-timeout))
				require.NoError(t, err)
				return joined
			}

			assert.True(t, touch(base), "first touch joins")
			assert.False(t, touch(base.Add(10*time.Second)), "touch within timeout refreshes")
			assert.False(t, touch(base.Add(35*time.Second)), "refresh extended the window")
			assert.True(t, touch(base.Add(70*time.Second)), "touch after timeout joins again")
		})
	}
}

func TestPresence_Sweep(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			ps := b.presence(t)
			cutoffFor := func(at time.Time) time.Time { return at.Add(-30 * time.Second) }

			_, err := ps.Touch(ctx, "alice", base, cutoffFor(base))
			require.NoError(t, err)
			later := base.Add(20 * time.Second)
			_, err = ps.Touch(ctx, "bob", later, cutoffFor(later))
			require.NoError(t, err)

			now := base.Add(40 * time.Second)
			expired, err := ps.Sweep(ctx, cutoffFor(now))
			require.NoError(t, err)
			require.Len(t, expired, 1)
			assert.Equal(t, "alice", expired[0].UserID)
			assert.True(t, expired[0].LastSeenAt.Equal(base))

			again, err := ps.Sweep(ctx, cutoffFor(now))
			require.NoError(t, err)
			assert.Empty(t, again, "an evicted record is returned once")

			online, err := ps.List(ctx)
			require.NoError(t, err)
			require.Len(t, online, 1)
			assert.Equal(t, "bob", online[0].UserID)
		})
	}
}

func TestPresence_ConcurrentTouchJoinsOnce(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			ps := b.presence(t)

			var joins atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					joined, err := ps.Touch(ctx, "alice", base, base.Add(-time.Minute))
					assert.NoError(t, err)
					if joined {
						joins.Add(1)
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, int32(1), joins.Load())
		})
	}
}

func appendN(t *testing.T, qs services.QueueStore, recipient string, n int) []models.QueueEntry {
	t.Helper()
	out := make([]models.QueueEntry, 0, n)
	for i := 0; i < n; i++ {
		e, err := qs.Append(context.Background(), recipient, json.RawMessage(fmt.Sprintf(`[%d]`, i)), base)
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

func TestQueue_AppendAndAfter(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			qs := b.queue(t)

			entries := appendN(t, qs, models.Broadcast, 5)
			for i := 1; i < len(entries); i++ {
				assert.Greater(t, entries[i].ID, entries[i-1].ID)
			}

			got, err := qs.After(ctx, 0, "alice", 3)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, entries[4].ID, got[0].ID, "newest first")
			assert.Equal(t, entries[2].ID, got[2].ID)
			assert.JSONEq(t, `[4]`, string(got[0].Payload))

			got, err = qs.After(ctx, entries[3].ID, "alice", 10)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, entries[4].ID, got[0].ID)

			got, err = qs.After(ctx, entries[4].ID, "alice", 10)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestQueue_DirectedVisibility(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			qs := b.queue(t)

			room := appendN(t, qs, models.Broadcast, 1)[0]
			toBob := appendN(t, qs, "bob", 1)[0]

			forBob, err := qs.After(ctx, 0, "bob", 10)
			require.NoError(t, err)
			require.Len(t, forBob, 2)
			assert.Equal(t, toBob.ID, forBob[0].ID)
			assert.Equal(t, "bob", forBob[0].RecipientUserID)
			assert.Equal(t, room.ID, forBob[1].ID)

			forAlice, err := qs.After(ctx, 0, "alice", 10)
			require.NoError(t, err)
			require.Len(t, forAlice, 1)
			assert.Equal(t, room.ID, forAlice[0].ID)
		})
	}
}

func TestQueue_DeleteThrough(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			qs := b.queue(t)

			entries := appendN(t, qs, models.Broadcast, 4)
			appendN(t, qs, "bob", 1)

			removed, err := qs.DeleteThrough(ctx, entries[1].ID)
			require.NoError(t, err)
			assert.Equal(t, int64(2), removed)

			got, err := qs.After(ctx, 0, "alice", 10)
			require.NoError(t, err)
			require.Len(t, got, 2)
			for _, e := range got {
				assert.Greater(t, e.ID, entries[1].ID, "trim never removes entries above the boundary")
			}

			// a cursor pointing into the trimmed range is not an error
			got, err = qs.After(ctx, entries[0].ID, "alice", 10)
			require.NoError(t, err)
			assert.Len(t, got, 2)
		})
	}
}

func TestQueue_IDsNotReusedAfterTrim(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			qs := b.queue(t)

			entries := appendN(t, qs, models.Broadcast, 3)
			_, err := qs.DeleteThrough(ctx, entries[2].ID)
			require.NoError(t, err)

			next := appendN(t, qs, models.Broadcast, 1)[0]
			assert.Greater(t, next.ID, entries[2].ID)
		})
	}
}

func TestDirectory_ExportAndRemember(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			dir := b.directory(t)

			unknown, err := dir.Export(ctx, "ghost")
			require.NoError(t, err)
			assert.Equal(t, models.UserView{ID: "ghost", Name: "ghost"}, unknown)

			require.NoError(t, dir.Remember(ctx, models.UserView{ID: "alice", Name: "Alice", Avatar: "a.png"}))
			require.NoError(t, dir.Remember(ctx, models.UserView{ID: "alice", Name: "Alice B"}))

			got, err := dir.Export(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, models.UserView{ID: "alice", Name: "Alice B"}, got)
		})
	}
}
