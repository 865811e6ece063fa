// Package redisstore implements session.Store on top of Redis, so that a
// session created by one gateway instance survives a restart and can be
// looked up by every instance behind the broker (spec §4.B's CRUD contract,
// backed by a real shared store rather than a single process's memory).
//
// Each session is a Redis hash: one field per bag key (JSON-encoded
// values) plus reserved fields for state/timestamps/metadata. The hash is
// written only by Create; changes later made to a *session.Session
// returned by Get (bag values, state, metadata) are not written back.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	json "github.com/segmentio/encoding/json"

	"github.com/relaymcp/relay/idgen"
	"github.com/relaymcp/relay/session"
)

const (
	fieldState   = "__state"
	fieldCreated = "__created"
	fieldUpdated = "__updated"
	fieldMeta    = "__meta"
)

// Store is a session.Store backed by a *redis.Client.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New wraps an existing redis client. ttl, if nonzero, is applied to the
// session hash key when it is written; reads do not extend it.
func New(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func key(id string) string { return "mcp:session:" + id }

func (s *Store) Create(ctx context.Context, _ session.RequestMetadata) (*session.Session, error) {
	sess := session.New(idgen.NewSessionID())
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) save(ctx context.Context, sess *session.Session) error {
	fields := map[string]any{
		fieldState:   string(sess.State),
		fieldCreated: sess.CreatedAt.Format(time.RFC3339Nano),
		fieldUpdated: sess.UpdatedAt.Format(time.RFC3339Nano),
	}
	if sess.Meta != nil {
		data, err := json.Marshal(sess.Meta)
		if err != nil {
			return fmt.Errorf("redisstore: encode meta: %w", err)
		}
		fields[fieldMeta] = data
	}
	for k, v := range sess.Bag {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("redisstore: encode bag key %q: %w", k, err)
		}
		fields[k] = data
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key(sess.ID), fields)
	if s.ttl > 0 {
		pipe.Expire(ctx, key(sess.ID), s.ttl)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redisstore: save %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string, _ session.RequestMetadata) (*session.Session, error) {
	raw, err := s.rdb.HGetAll(ctx, key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: get %s: %w", id, err)
	}
	if len(raw) == 0 {
		return nil, session.ErrNotFound
	}

	sess := session.New(id)
	sess.Bag = make(map[string]any)
	for k, v := range raw {
		switch k {
		case fieldState:
			sess.State = session.State(v)
		case fieldCreated:
			t, _ := time.Parse(time.RFC3339Nano, v)
			sess.CreatedAt = t
		case fieldUpdated:
			t, _ := time.Parse(time.RFC3339Nano, v)
			sess.UpdatedAt = t
		case fieldMeta:
			var m session.Metadata
			if err := json.Unmarshal([]byte(v), &m); err == nil {
				sess.Meta = &m
			}
		default:
			var val any
			if err := json.Unmarshal([]byte(v), &val); err == nil {
				sess.Bag[k] = val
			}
		}
	}
	return sess, nil
}

func (s *Store) Delete(ctx context.Context, id string, _ session.RequestMetadata) error {
	if err := s.rdb.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %s: %w", id, err)
	}
	return nil
}

var _ session.Store = (*Store)(nil)
