package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"chorus/chat-service/models"
)

const (
	presenceKey   = "presence:online"
	seqKey        = "queue:seq"
	roomQueueKey  = "queue:room"
	userQueueKey  = "queue:user:"
	recipientsKey = "queue:recipients"
	userKeyPrefix = "user:"
)

// touchScript refreshes the score and reports 1 when the previous score was
// missing or older than the cutoff.
var touchScript = redis.NewScript(`
local prev = redis.call('ZSCORE', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
if not prev then
	return 1
end
if tonumber(prev) < tonumber(ARGV[3]) then
	return 1
end
return 0
`)

// sweepScript removes and returns members scored below the cutoff
var sweepScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1], 'WITHSCORES')
if #expired > 0 then
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
end
return expired
`)

// appendScript assigns the id and stores the entry in one step, so no reader
// can observe id n+1 before id n.
var appendScript = redis.NewScript(`
local id = redis.call('INCR', KEYS[1])
redis.call('ZADD', KEYS[2], id, id .. ':' .. ARGV[1])
if ARGV[2] ~= '' then
	redis.call('SADD', KEYS[3], KEYS[2])
end
return id
`)

// RedisPresence tracks online users in a sorted set scored by last-seen unix millis
type RedisPresence struct {
	client *redis.Client
	key    string
}

func NewRedisPresence(client *redis.Client, prefix string) *RedisPresence {
	return &RedisPresence{client: client, key: prefix + presenceKey}
}

func (rp *RedisPresence) Touch(ctx context.Context, userID string, now, cutoff time.Time) (bool, error) {
	joined, err := touchScript.Run(ctx, rp.client, []string{rp.key}, userID, now.UnixMilli(), cutoff.UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to touch presence: %w", err)
	}
	return joined == 1, nil
}

func (rp *RedisPresence) Sweep(ctx context.Context, cutoff time.Time) ([]models.OnlineRecord, error) {
	flat, err := sweepScript.Run(ctx, rp.client, []string{rp.key}, cutoff.UnixMilli()).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to sweep presence: %w", err)
	}

	records := make([]models.OnlineRecord, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		ms, err := strconv.ParseFloat(flat[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad presence score for %s: %w", flat[i], err)
		}
		records = append(records, models.OnlineRecord{UserID: flat[i], LastSeenAt: time.UnixMilli(int64(ms))})
	}
	sortRecords(records)
	return records, nil
}

func (rp *RedisPresence) List(ctx context.Context) ([]models.OnlineRecord, error) {
	members, err := rp.client.ZRangeWithScores(ctx, rp.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list presence: %w", err)
	}

	records := make([]models.OnlineRecord, 0, len(members))
	for _, z := range members {
		id, _ := z.Member.(string)
		records = append(records, models.OnlineRecord{UserID: id, LastSeenAt: time.UnixMilli(int64(z.Score))})
	}
	sortRecords(records)
	return records, nil
}

// RedisQueue stores entries in sorted sets scored by id: one for room-wide
// entries and one per directed recipient.
type RedisQueue struct {
	client *redis.Client
	prefix string
}

func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	return &RedisQueue{client: client, prefix: prefix}
}

// redisEntry is the member body after the "<id>:" prefix
type redisEntry struct {
	Recipient string          `json:"r,omitempty"`
	Payload   json.RawMessage `json:"p"`
	CreatedAt int64           `json:"t"`
}

func (rq *RedisQueue) zsetFor(recipient string) string {
	if recipient == models.Broadcast {
		return rq.prefix + roomQueueKey
	}
	return rq.prefix + userQueueKey + recipient
}

func (rq *RedisQueue) Append(ctx context.Context, recipient string, payload json.RawMessage, at time.Time) (models.QueueEntry, error) {
	body, err := json.Marshal(redisEntry{Recipient: recipient, Payload: payload, CreatedAt: at.UnixMilli()})
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("failed to marshal queue entry: %w", err)
	}

	keys := []string{rq.prefix + seqKey, rq.zsetFor(recipient), rq.prefix + recipientsKey}
	id, err := appendScript.Run(ctx, rq.client, keys, body, recipient).Int64()
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("failed to append queue entry: %w", err)
	}

	return models.QueueEntry{
		ID:              id,
		RecipientUserID: recipient,
		Payload:         payload,
		CreatedAt:       time.UnixMilli(at.UnixMilli()),
	}, nil
}

func (rq *RedisQueue) After(ctx context.Context, cursor int64, userID string, limit int) ([]models.QueueEntry, error) {
	rng := &redis.ZRangeBy{
		Min:   "(" + strconv.FormatInt(cursor, 10),
		Max:   "+inf",
		Count: int64(limit),
	}

	pipe := rq.client.Pipeline()
	room := pipe.ZRevRangeByScore(ctx, rq.zsetFor(models.Broadcast), rng)
	var direct *redis.StringSliceCmd
	if userID != models.Broadcast {
		direct = pipe.ZRevRangeByScore(ctx, rq.zsetFor(userID), rng)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	members := room.Val()
	if direct != nil {
		members = append(members, direct.Val()...)
	}

	entries := make([]models.QueueEntry, 0, len(members))
	for _, m := range members {
		e, err := decodeRedisEntry(m)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID > entries[j].ID })
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (rq *RedisQueue) DeleteThrough(ctx context.Context, cursor int64) (int64, error) {
	keys, err := rq.client.SMembers(ctx, rq.prefix+recipientsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list queue recipients: %w", err)
	}
	keys = append(keys, rq.zsetFor(models.Broadcast))

	upper := strconv.FormatInt(cursor, 10)
	pipe := rq.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.ZRemRangeByScore(ctx, key, "-inf", upper)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to trim queue: %w", err)
	}

	var removed int64
	for _, cmd := range cmds {
		removed += cmd.Val()
	}
	return removed, nil
}

func decodeRedisEntry(member string) (models.QueueEntry, error) {
	idPart, body, ok := strings.Cut(member, ":")
	if !ok {
		return models.QueueEntry{}, fmt.Errorf("malformed queue member %q", member)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return models.QueueEntry{}, fmt.Errorf("malformed queue id %q: %w", idPart, err)
	}

	var re redisEntry
	if err := json.Unmarshal([]byte(body), &re); err != nil {
		return models.QueueEntry{}, fmt.Errorf("failed to unmarshal queue entry %d: %w", id, err)
	}
	return models.QueueEntry{
		ID:              id,
		RecipientUserID: re.Recipient,
		Payload:         re.Payload,
		CreatedAt:       time.UnixMilli(re.CreatedAt),
	}, nil
}

// RedisDirectory stores user views as hashes
type RedisDirectory struct {
	client *redis.Client
	prefix string
}

func NewRedisDirectory(client *redis.Client, prefix string) *RedisDirectory {
	return &RedisDirectory{client: client, prefix: prefix + userKeyPrefix}
}

func (rd *RedisDirectory) Export(ctx context.Context, userID string) (models.UserView, error) {
	fields, err := rd.client.HGetAll(ctx, rd.prefix+userID).Result()
	if err != nil {
		return models.UserView{}, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if len(fields) == 0 {
		return fallbackView(userID), nil
	}
	return models.UserView{ID: userID, Name: fields["name"], Avatar: fields["avatar"]}, nil
}

func (rd *RedisDirectory) Remember(ctx context.Context, user models.UserView) error {
	err := rd.client.HSet(ctx, rd.prefix+user.ID, "name", user.Name, "avatar", user.Avatar).Err()
	if err != nil {
		return fmt.Errorf("failed to store user %s: %w", user.ID, err)
	}
	return nil
}
