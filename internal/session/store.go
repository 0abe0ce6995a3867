package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentra-iam/sentra/internal/shared"
)

// RedisStore keeps live sessions in Redis. Sessions die by TTL; the lazy
// timeout in the service handles inactivity below the TTL. A per-user index
// set supports review queries and the background reaper.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore builds a session store with the given absolute TTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func sessionKey(id string) string   { return "session:" + id }
func userIndexKey(user string) string { return "sessions:user:" + user }

// Save persists the session and refreshes its TTL.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return shared.WrapStore(err, "encode session")
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.ID), data, s.ttl)
	pipe.SAdd(ctx, userIndexKey(sess.User), sess.ID)
	pipe.Expire(ctx, userIndexKey(sess.User), 2*s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return shared.WrapStore(err, "save session")
	}
	return nil
}

// Get loads a session by id.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shared.Errorf(shared.CodeSessionNotFound, shared.KindNotFound, "session %q not found", id)
	}
	if err != nil {
		return nil, shared.WrapStore(err, "load session")
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, shared.WrapStore(err, "decode session")
	}
	return &sess, nil
}

// Delete removes a session. Deleting an absent session is a no-op: session
// termination is idempotent.
func (s *RedisStore) Delete(ctx context.Context, sess *Session) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(sess.ID))
	pipe.SRem(ctx, userIndexKey(sess.User), sess.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return shared.WrapStore(err, "delete session")
	}
	return nil
}

// UserSessions returns the ids of the user's live sessions. Ids whose keys
// have already expired are filtered out but left for the reaper to remove
// from the index.
func (s *RedisStore) UserSessions(ctx context.Context, user string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, userIndexKey(user)).Result()
	if err != nil {
		return nil, shared.WrapStore(err, "list user sessions")
	}
	live := make([]string, 0, len(ids))
	for _, id := range ids {
		n, err := s.client.Exists(ctx, sessionKey(id)).Result()
		if err != nil {
			return nil, shared.WrapStore(err, "probe session")
		}
		if n > 0 {
			live = append(live, id)
		}
	}
	return live, nil
}

// ReapOrphans walks the per-user index sets and removes ids whose session
// keys have expired. Returns the number of ids removed.
func (s *RedisStore) ReapOrphans(ctx context.Context) (int, error) {
	var removed int
	iter := s.client.Scan(ctx, 0, "sessions:user:*", 100).Iterator()
	for iter.Next(ctx) {
		indexKey := iter.Val()
		ids, err := s.client.SMembers(ctx, indexKey).Result()
		if err != nil {
			return removed, shared.WrapStore(err, "read session index")
		}
		for _, id := range ids {
			n, err := s.client.Exists(ctx, sessionKey(id)).Result()
			if err != nil {
				return removed, shared.WrapStore(err, "probe session")
			}
			if n == 0 {
				if err := s.client.SRem(ctx, indexKey, id).Err(); err != nil {
					return removed, shared.WrapStore(err, "trim session index")
				}
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, shared.WrapStore(err, "scan session indexes")
	}
	return removed, nil
}
