// Package redis implements the Job Store contract (pkg/store) on top
// of Redis: a hash for data, a list for pending, a sorted set for
// scheduled (score = eligibility time), one set per in-flight
// partition, a hash for consumers, and sorted sets for done/failed/
// dead. Every multi-key transition is a server-side Lua script so a
// crash mid-call never leaves an id in two collections at once,
// matching SPEC §9's script-atomicity design note.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"forgequeue/pkg/job"
	"forgequeue/pkg/store"
)

// Store is a Redis-backed implementation of store.Store.
type Store struct {
	client *redis.Client
	log    *zap.Logger
}

// New connects to addr and verifies reachability with a PING.
func New(addr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis store: %w", job.TransportError(err))
	}
	return &Store{client: client, log: zap.NewNop()}, nil
}

// NewFromClient wraps an already-configured client, useful when the
// caller wants custom dial options, TLS, or a cluster client.
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client, log: zap.NewNop()}
}

// WithLogger attaches log for diagnostics that have no other way to
// surface, such as a corrupted in-flight wire record discovered
// during FetchBatch.
func (s *Store) WithLogger(log *zap.Logger) *Store {
	if log != nil {
		s.log = log
	}
	return s
}

func (s *Store) Close() error { return s.client.Close() }

// --- key helpers ---

func dataKey(ns string) string      { return "jobs:" + ns + ":data" }
func pendingKey(ns string) string   { return "jobs:" + ns + ":pending" }
func scheduledKey(ns string) string { return "jobs:" + ns + ":scheduled" }
func inflightKey(ns, worker string) string {
	return "jobs:" + ns + ":inflight:" + worker
}
func inflightWorkersKey(ns string) string { return "jobs:" + ns + ":inflight-workers" }
func consumersKey(ns string) string       { return "jobs:" + ns + ":consumers" }
func doneKey(ns string) string            { return "jobs:" + ns + ":done" }
func failedKey(ns string) string          { return "jobs:" + ns + ":failed" }
func deadKey(ns string) string            { return "jobs:" + ns + ":dead" }

// wireRecord is the JSON shape stored in the data hash. It mirrors
// job.Record field-for-field; decoded with cjson inside Lua scripts
// that need to inspect or mutate attempts/max_attempts.
type wireRecord struct {
	ID           string     `json:"id"`
	Namespace    string     `json:"namespace"`
	Payload      []byte     `json:"payload"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func toRecord(w wireRecord) job.Record {
	return job.Record{
		ID:           w.ID,
		Namespace:    w.Namespace,
		Payload:      w.Payload,
		Attempts:     w.Attempts,
		MaxAttempts:  w.MaxAttempts,
		ScheduledFor: w.ScheduledFor,
		LastError:    w.LastError,
		CreatedAt:    w.CreatedAt,
	}
}

func fromRecord(r job.Record) wireRecord {
	return wireRecord{
		ID:           r.ID,
		Namespace:    r.Namespace,
		Payload:      r.Payload,
		Attempts:     r.Attempts,
		MaxAttempts:  r.MaxAttempts,
		ScheduledFor: r.ScheduledFor,
		LastError:    r.LastError,
		CreatedAt:    r.CreatedAt,
	}
}

func (s *Store) Push(ctx context.Context, namespace string, payload []byte, maxAttempts int) (string, error) {
	id := uuid.NewString()
	rec := wireRecord{
		ID:          id,
		Namespace:   namespace,
		Payload:     payload,
		MaxAttempts: maxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.writeAndEnqueue(ctx, pushScript, namespace, id, rec); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Schedule(ctx context.Context, namespace string, payload []byte, maxAttempts int, at time.Time) (string, error) {
	id := uuid.NewString()
	rec := wireRecord{
		ID:           id,
		Namespace:    namespace,
		Payload:      payload,
		MaxAttempts:  maxAttempts,
		ScheduledFor: &at,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.writeAndEnqueue(ctx, scheduleScript, namespace, id, rec, at.UnixNano()); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) writeAndEnqueue(ctx context.Context, script *redis.Script, namespace, id string, rec wireRecord, extra ...interface{}) error {
	data, err := jsonMarshal(rec)
	if err != nil {
		return job.CodecError(err)
	}
	var keys []string
	var args []interface{}
	if rec.ScheduledFor != nil {
		keys = []string{dataKey(namespace), scheduledKey(namespace)}
		args = []interface{}{id, data, extra[0]}
	} else {
		keys = []string{dataKey(namespace), pendingKey(namespace)}
		args = []interface{}{id, data}
	}
	if err := script.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return job.TransportError(err)
	}
	return nil
}

var pushScript = redis.NewScript(`
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

var scheduleScript = redis.NewScript(`
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`)

var fetchBatchScript = redis.NewScript(`
local ids = {}
for i = 1, tonumber(ARGV[1]) do
  local id = redis.call('LPOP', KEYS[1])
  if not id then break end
  table.insert(ids, id)
  redis.call('SADD', KEYS[3], id)
end
if #ids > 0 then
  redis.call('SADD', KEYS[4], ARGV[2])
end
local payloads = {}
for i, id in ipairs(ids) do
  payloads[i] = redis.call('HGET', KEYS[2], id)
end
return {ids, payloads}
`)

// deadLetterCorruptScript moves an id straight to dead/failed without
// going through killScript's cjson.decode — the record's own bytes
// are unparseable, so there is nothing for Lua to decode safely.
var deadLetterCorruptScript = redis.NewScript(`
redis.call('SREM', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
return 1
`)

// deadLetterCorrupt replaces an unparseable wire record with a minimal
// valid one carrying reason in last_error, and moves it to dead/failed.
// Used when FetchBatch finds a record it cannot decode: leaving it
// in-flight forever would leak a slot in the worker's partition.
func (s *Store) deadLetterCorrupt(ctx context.Context, namespace, workerID, id, reason string) error {
	data, err := jsonMarshal(wireRecord{
		ID:        id,
		Namespace: namespace,
		LastError: reason,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return job.CodecError(err)
	}
	keys := []string{inflightKey(namespace, workerID), dataKey(namespace), deadKey(namespace), failedKey(namespace)}
	if err := deadLetterCorruptScript.Run(ctx, s.client, keys, id, data, time.Now().UnixNano()).Err(); err != nil {
		return job.TransportError(err)
	}
	return nil
}

func (s *Store) FetchBatch(ctx context.Context, namespace, workerID string, n int) ([]job.Record, error) {
	keys := []string{pendingKey(namespace), dataKey(namespace), inflightKey(namespace, workerID), inflightWorkersKey(namespace)}
	res, err := fetchBatchScript.Run(ctx, s.client, keys, n, workerID).Result()
	if err != nil {
		return nil, job.TransportError(err)
	}
	rows, ok := res.([]interface{})
	if !ok || len(rows) != 2 {
		return nil, job.NewError(job.KindMissingContext, fmt.Errorf("unexpected fetch_batch reply shape"))
	}
	ids, _ := rows[0].([]interface{})
	payloads, _ := rows[1].([]interface{})
	out := make([]job.Record, 0, len(payloads))
	for i, p := range payloads {
		str, ok := p.(string)
		if !ok || str == "" {
			continue
		}
		var w wireRecord
		if err := jsonUnmarshal([]byte(str), &w); err != nil {
			var id string
			if i < len(ids) {
				id, _ = ids[i].(string)
			}
			s.log.Error("redis store: corrupted in-flight wire record, dead-lettering",
				zap.String("id", id), zap.String("namespace", namespace), zap.Error(err))
			if dlErr := s.deadLetterCorrupt(ctx, namespace, workerID, id, "wire record decode failed: "+err.Error()); dlErr != nil {
				s.log.Error("redis store: failed to dead-letter corrupted wire record",
					zap.String("id", id), zap.Error(dlErr))
			}
			continue
		}
		out = append(out, toRecord(w))
	}
	return out, nil
}

var ackScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
if removed == 0 then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

func (s *Store) Ack(ctx context.Context, namespace, workerID, id string) error {
	keys := []string{inflightKey(namespace, workerID), doneKey(namespace)}
	if err := ackScript.Run(ctx, s.client, keys, id, time.Now().UnixNano()).Err(); err != nil {
		return job.TransportError(err)
	}
	return nil
}

var killScript = redis.NewScript(`
redis.call('SREM', KEYS[1], ARGV[1])
local data = redis.call('HGET', KEYS[2], ARGV[1])
if not data then
  return 0
end
local rec = cjson.decode(data)
rec['last_error'] = ARGV[2]
redis.call('HSET', KEYS[2], ARGV[1], cjson.encode(rec))
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
return 1
`)

func (s *Store) Kill(ctx context.Context, namespace, workerID, id, reason string) error {
	keys := []string{inflightKey(namespace, workerID), dataKey(namespace), deadKey(namespace), failedKey(namespace)}
	if err := killScript.Run(ctx, s.client, keys, id, reason, time.Now().UnixNano()).Err(); err != nil {
		return job.TransportError(err)
	}
	return nil
}

// retryScript implements the retry-vs-kill boundary resolved in
// SPEC_FULL.md: attempts is only incremented on the path that
// re-schedules; the path that kills leaves it untouched.
var retryScript = redis.NewScript(`
local removed = redis.call('SREM', KEYS[1], ARGV[1])
if removed == 0 then
  return 0
end
local data = redis.call('HGET', KEYS[2], ARGV[1])
if not data then
  return 0
end
local rec = cjson.decode(data)
local would_be = rec['attempts'] + 1
rec['last_error'] = ARGV[2]
if would_be >= rec['max_attempts'] then
  redis.call('HSET', KEYS[2], ARGV[1], cjson.encode(rec))
  redis.call('ZADD', KEYS[3], ARGV[4], ARGV[1])
  redis.call('ZADD', KEYS[4], ARGV[4], ARGV[1])
  return 2
end
rec['attempts'] = would_be
redis.call('HSET', KEYS[2], ARGV[1], cjson.encode(rec))
redis.call('ZADD', KEYS[5], ARGV[3], ARGV[1])
return 1
`)

func (s *Store) Retry(ctx context.Context, namespace, workerID, id, reason string, wait time.Duration) error {
	keys := []string{
		inflightKey(namespace, workerID),
		dataKey(namespace),
		deadKey(namespace),
		failedKey(namespace),
		scheduledKey(namespace),
	}
	scheduleAt := time.Now().Add(wait).UnixNano()
	now := time.Now().UnixNano()
	if err := retryScript.Run(ctx, s.client, keys, id, reason, scheduleAt, now).Err(); err != nil {
		return job.TransportError(err)
	}
	return nil
}

func (s *Store) KeepAlive(ctx context.Context, namespace, workerID string) error {
	err := s.client.HSet(ctx, consumersKey(namespace), workerID, time.Now().UnixNano()).Err()
	if err != nil {
		return job.TransportError(err)
	}
	return nil
}

var promoteScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for i, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('RPUSH', KEYS[2], id)
end
return #ids
`)

func (s *Store) PromoteScheduled(ctx context.Context, namespace string, n int) (int, error) {
	keys := []string{scheduledKey(namespace), pendingKey(namespace)}
	res, err := promoteScript.Run(ctx, s.client, keys, time.Now().UnixNano(), n).Int()
	if err != nil {
		return 0, job.TransportError(err)
	}
	return res, nil
}

// reenqueueScript reclaims a single worker's in-flight partition. It
// prepends (LPUSH) reclaimed ids to pending rather than appending, so
// orphaned work jumps ahead of newly produced work — the alternative
// permitted by SPEC §5; documented here as the implementation choice.
var reenqueueScript = redis.NewScript(`
local ids = redis.call('SMEMBERS', KEYS[1])
for i, id in ipairs(ids) do
  redis.call('LPUSH', KEYS[2], id)
end
redis.call('DEL', KEYS[1])
redis.call('HDEL', KEYS[3], ARGV[1])
redis.call('SREM', KEYS[4], ARGV[1])
return #ids
`)

func (s *Store) ReenqueueOrphaned(ctx context.Context, namespace string, maxAge time.Duration) (int, error) {
	consumers, err := s.client.HGetAll(ctx, consumersKey(namespace)).Result()
	if err != nil {
		return 0, job.TransportError(err)
	}
	cutoff := time.Now().Add(-maxAge).UnixNano()
	total := 0
	for workerID, lastSeenStr := range consumers {
		lastSeen, err := parseInt64(lastSeenStr)
		if err != nil || lastSeen >= cutoff {
			continue
		}
		keys := []string{
			inflightKey(namespace, workerID),
			pendingKey(namespace),
			consumersKey(namespace),
			inflightWorkersKey(namespace),
		}
		n, err := reenqueueScript.Run(ctx, s.client, keys, workerID).Int()
		if err != nil {
			return total, job.TransportError(err)
		}
		total += n
	}
	return total, nil
}

var vacuumScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
local count = 0
for i, id in ipairs(ids) do
  if redis.call('HDEL', KEYS[2], id) == 1 then
    count = count + 1
  end
end
return count
`)

func (s *Store) Vacuum(ctx context.Context, namespace string) (int, error) {
	keys := []string{deadKey(namespace), dataKey(namespace)}
	n, err := vacuumScript.Run(ctx, s.client, keys).Int()
	if err != nil {
		return 0, job.TransportError(err)
	}
	return n, nil
}

var cancelScript = redis.NewScript(`
local removed_pending = redis.call('LREM', KEYS[1], 0, ARGV[1])
local removed_scheduled = redis.call('ZREM', KEYS[2], ARGV[1])
if removed_pending == 0 and removed_scheduled == 0 then
  return 0
end
redis.call('HDEL', KEYS[3], ARGV[1])
return 1
`)

func (s *Store) Cancel(ctx context.Context, namespace, id string) (bool, error) {
	keys := []string{pendingKey(namespace), scheduledKey(namespace), dataKey(namespace)}
	n, err := cancelScript.Run(ctx, s.client, keys, id).Int()
	if err != nil {
		return false, job.TransportError(err)
	}
	return n == 1, nil
}

func (s *Store) Len(ctx context.Context, namespace string) (int64, error) {
	n, err := s.client.HLen(ctx, dataKey(namespace)).Result()
	if err != nil {
		return 0, job.TransportError(err)
	}
	return n, nil
}

func (s *Store) IsEmpty(ctx context.Context, namespace string) (bool, error) {
	n, err := s.client.LLen(ctx, pendingKey(namespace)).Result()
	if err != nil {
		return false, job.TransportError(err)
	}
	return n == 0, nil
}

func (s *Store) FetchByID(ctx context.Context, namespace, id string) (*job.Record, error) {
	data, err := s.client.HGet(ctx, dataKey(namespace), id).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, store.ErrNotFound
		}
		return nil, job.TransportError(err)
	}
	var w wireRecord
	if err := jsonUnmarshal(data, &w); err != nil {
		return nil, job.CodecError(err)
	}
	rec := toRecord(w)
	return &rec, nil
}

func (s *Store) Update(ctx context.Context, namespace string, rec *job.Record) error {
	data, err := jsonMarshal(fromRecord(*rec))
	if err != nil {
		return job.CodecError(err)
	}
	if err := s.client.HSet(ctx, dataKey(namespace), rec.ID, data).Err(); err != nil {
		return job.TransportError(err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context, namespace string) (store.Stats, error) {
	pipe := s.client.Pipeline()
	pending := pipe.LLen(ctx, pendingKey(namespace))
	scheduled := pipe.ZCard(ctx, scheduledKey(namespace))
	done := pipe.ZCard(ctx, doneKey(namespace))
	failed := pipe.ZCard(ctx, failedKey(namespace))
	dead := pipe.ZCard(ctx, deadKey(namespace))
	workers := pipe.SMembers(ctx, inflightWorkersKey(namespace))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return store.Stats{}, job.TransportError(err)
	}

	var inFlight int64
	for _, w := range workers.Val() {
		n, err := s.client.SCard(ctx, inflightKey(namespace, w)).Result()
		if err == nil {
			inFlight += n
		}
	}

	return store.Stats{
		Pending:   pending.Val(),
		Scheduled: scheduled.Val(),
		InFlight:  inFlight,
		Done:      done.Val(),
		Failed:    failed.Val(),
		Dead:      dead.Val(),
	}, nil
}

func (s *Store) Consumers(ctx context.Context, namespace string) ([]job.Consumer, error) {
	raw, err := s.client.HGetAll(ctx, consumersKey(namespace)).Result()
	if err != nil {
		return nil, job.TransportError(err)
	}
	out := make([]job.Consumer, 0, len(raw))
	for workerID, lastSeenStr := range raw {
		nanos, err := parseInt64(lastSeenStr)
		if err != nil {
			continue
		}
		out = append(out, job.Consumer{WorkerID: workerID, LastSeen: time.Unix(0, nanos)})
	}
	return out, nil
}
