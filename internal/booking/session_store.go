package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ErrVersionConflict indicates another writer committed the session
// first; the caller must reload and re-apply its merge.
var ErrVersionConflict = errors.New("booking: session version conflict")

// SessionStore persists booking sessions keyed by conversation.
type SessionStore interface {
	// Load returns the stored session, or nil when none exists or the
	// idle deadline has lapsed (lazy expiry).
	Load(ctx context.Context, conversationKey string) (*Session, error)
	// Save commits the session if and only if the stored version still
	// matches session.Version, then increments it. A mismatch returns
	// ErrVersionConflict and writes nothing.
	Save(ctx context.Context, session *Session) error
}

// saveScript performs the compare-and-swap: the write succeeds only
// when the stored document's version matches the version the writer
// read (ARGV[1]), or when the key is absent and the writer read
// version zero.
const saveScript = `
local cur = redis.call('GET', KEYS[1])
if not cur then
  if tonumber(ARGV[1]) == 0 then
    redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
    return 1
  end
  return 0
end
local doc = cjson.decode(cur)
if tonumber(doc['version']) == tonumber(ARGV[1]) then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
  return 1
end
return 0
`

// RedisSessionStore keeps sessions in Redis. The key TTL tracks the
// session's idle deadline, so abandoned conversations clean themselves
// up without a background sweep; Load still checks ExpiresAt so a
// lagging TTL can never resurrect a dead session.
type RedisSessionStore struct {
	client *redis.Client
	save   *redis.Script
	tracer trace.Tracer
	nowFn  func() time.Time
}

// NewRedisSessionStore creates the store.
func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	if client == nil {
		panic("booking: redis client cannot be nil")
	}
	return &RedisSessionStore{
		client: client,
		save:   redis.NewScript(saveScript),
		tracer: otel.Tracer("atendeai.internal.booking.sessions"),
		nowFn:  time.Now,
	}
}

var _ SessionStore = (*RedisSessionStore)(nil)

func sessionKey(conversationKey string) string {
	return fmt.Sprintf("booking_session:%s", conversationKey)
}

// Load fetches and lazily expires the session for the key.
func (s *RedisSessionStore) Load(ctx context.Context, conversationKey string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "booking.session_load")
	defer span.End()

	data, err := s.client.Get(ctx, sessionKey(conversationKey)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("booking: failed to load session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("booking: failed to decode session: %w", err)
	}
	if sess.Expired(s.nowFn()) {
		return nil, nil
	}
	return &sess, nil
}

// Save commits the session under optimistic concurrency.
func (s *RedisSessionStore) Save(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("booking: session cannot be nil")
	}
	ctx, span := s.tracer.Start(ctx, "booking.session_save")
	defer span.End()

	expected := session.Version
	next := *session
	next.Version = expected + 1

	data, err := json.Marshal(&next)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("booking: failed to marshal session: %w", err)
	}

	px := time.Until(next.ExpiresAt).Milliseconds()
	if px < 1000 {
		px = 1000
	}

	ok, err := s.save.Run(ctx, s.client, []string{sessionKey(session.ConversationKey)}, expected, string(data), px).Int()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("booking: failed to persist session: %w", err)
	}
	if ok != 1 {
		return ErrVersionConflict
	}

	session.Version = next.Version
	return nil
}
