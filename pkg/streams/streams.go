// Package streams implements the durable per-task event queues on Redis
// streams. Every task owns an input and an output stream; readers tail them
// by cursor and writers get back the assigned stream ID.
package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream name layout for task queues.
const (
	InputPrefix  = "task:input:"
	OutputPrefix = "task:output:"
)

// InputStream returns the input stream name for a task.
func InputStream(taskID string) string { return InputPrefix + taskID }

// OutputStream returns the output stream name for a task.
func OutputStream(taskID string) string { return OutputPrefix + taskID }

// payloadField is the single field each entry carries.
const payloadField = "data"

var validStreamID = regexp.MustCompile(`^\d+(-\d+)?$`)

// NewClient connects to Redis and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Entry is one stream record.
type Entry struct {
	ID   string
	Data []byte
}

// Queue is an append-only, ID-addressed view over one Redis stream.
// Read-side failures are swallowed into empty returns so a transient Redis
// error never crashes a consumer loop; they are logged instead.
type Queue struct {
	rdb    *redis.Client
	stream string
	logger *slog.Logger
}

// New returns a queue bound to the named stream.
func New(rdb *redis.Client, stream string) *Queue {
	return &Queue{
		rdb:    rdb,
		stream: stream,
		logger: slog.With("stream", stream),
	}
}

// Name returns the underlying stream name.
func (q *Queue) Name() string { return q.stream }

// Put appends a payload and returns the ID Redis assigned to it.
func (q *Queue) Put(ctx context.Context, payload []byte) (string, error) {
	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{payloadField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", q.stream, err)
	}
	return id, nil
}

// Get returns the first entry with ID greater than startID. A non-positive
// block means return immediately when nothing is there; otherwise wait up to
// that long. startID is normalized: anything that is not a valid stream ID
// or "$" reads from the beginning rather than failing the reader.
func (q *Queue) Get(ctx context.Context, startID string, block time.Duration) (string, []byte) {
	if block <= 0 {
		block = -1 // disables BLOCK; zero would block forever
	}
	res, err := q.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{q.stream, NormalizeID(startID)},
		Count:   1,
		Block:   block,
	}).Result()
	if err != nil {
		if !isEmptyRead(err) {
			q.logger.Warn("Stream read failed", "error", err)
		}
		return "", nil
	}
	for _, s := range res {
		for _, msg := range s.Messages {
			return msg.ID, payloadOf(msg)
		}
	}
	return "", nil
}

// Pop atomically removes and returns the earliest entry. Concurrent poppers
// are serialized by a distributed lock; in the intended deployment each
// stream has a single consumer and the lock is a safety net, not a
// correctness requirement across processes.
func (q *Queue) Pop(ctx context.Context) (string, []byte) {
	lock := newPopLock(q.rdb, q.stream)
	if !lock.acquire(ctx) {
		q.logger.Warn("Pop lock acquisition timed out")
		return "", nil
	}
	defer lock.release(ctx)

	msgs, err := q.rdb.XRangeN(ctx, q.stream, "-", "+", 1).Result()
	if err != nil {
		q.logger.Warn("Stream pop read failed", "error", err)
		return "", nil
	}
	if len(msgs) == 0 {
		return "", nil
	}
	msg := msgs[0]
	if err := q.rdb.XDel(ctx, q.stream, msg.ID).Err(); err != nil {
		q.logger.Warn("Stream pop delete failed", "id", msg.ID, "error", err)
		return "", nil
	}
	return msg.ID, payloadOf(msg)
}

// Range returns up to count entries between start and end (inclusive,
// normalized). count <= 0 means no limit.
func (q *Queue) Range(ctx context.Context, start, end string, count int64) []Entry {
	if start == "" {
		start = "-"
	}
	if end == "" {
		end = "+"
	}
	var msgs []redis.XMessage
	var err error
	if count > 0 {
		msgs, err = q.rdb.XRangeN(ctx, q.stream, start, end, count).Result()
	} else {
		msgs, err = q.rdb.XRange(ctx, q.stream, start, end).Result()
	}
	if err != nil {
		q.logger.Warn("Stream range failed", "error", err)
		return nil
	}
	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, Entry{ID: msg.ID, Data: payloadOf(msg)})
	}
	return entries
}

// LatestID returns the ID of the newest entry, or "" when the stream is
// empty or unreachable.
func (q *Queue) LatestID(ctx context.Context) string {
	msgs, err := q.rdb.XRevRangeN(ctx, q.stream, "+", "-", 1).Result()
	if err != nil {
		q.logger.Warn("Stream latest-id failed", "error", err)
		return ""
	}
	if len(msgs) == 0 {
		return ""
	}
	return msgs[0].ID
}

// Size returns the number of entries currently in the stream.
func (q *Queue) Size(ctx context.Context) int64 {
	n, err := q.rdb.XLen(ctx, q.stream).Result()
	if err != nil {
		q.logger.Warn("Stream size failed", "error", err)
		return 0
	}
	return n
}

// IsEmpty reports whether the stream has no entries.
func (q *Queue) IsEmpty(ctx context.Context) bool {
	return q.Size(ctx) == 0
}

// Clear removes all entries but keeps the stream key.
func (q *Queue) Clear(ctx context.Context) error {
	if err := q.rdb.XTrimMaxLen(ctx, q.stream, 0).Err(); err != nil {
		return fmt.Errorf("clear %s: %w", q.stream, err)
	}
	return nil
}

// Delete removes a single entry by ID.
func (q *Queue) Delete(ctx context.Context, id string) error {
	if err := q.rdb.XDel(ctx, q.stream, id).Err(); err != nil {
		return fmt.Errorf("delete %s from %s: %w", id, q.stream, err)
	}
	return nil
}

// Destroy removes the stream key entirely.
func (q *Queue) Destroy(ctx context.Context) error {
	if err := q.rdb.Del(ctx, q.stream).Err(); err != nil {
		return fmt.Errorf("destroy %s: %w", q.stream, err)
	}
	return nil
}

// NormalizeID maps arbitrary input to a usable read cursor. Valid IDs and
// "$" pass through; "" and garbage become "0-0" so a stale client cursor
// degrades to a full replay instead of an error.
func NormalizeID(id string) string {
	if id == "$" {
		return id
	}
	if validStreamID.MatchString(id) {
		return id
	}
	return "0-0"
}

func payloadOf(msg redis.XMessage) []byte {
	v, ok := msg.Values[payloadField]
	if !ok {
		return nil
	}
	switch data := v.(type) {
	case string:
		return []byte(data)
	case []byte:
		return data
	default:
		return nil
	}
}

// isEmptyRead reports whether the error is the normal outcome of a blocking
// read that saw nothing (redis.Nil) or a canceled context.
func isEmptyRead(err error) bool {
	return errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
