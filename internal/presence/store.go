// Package presence mirrors the session queue into an external store so
// other processes can see who is connected and who is being serviced.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store tracks queued sessions.
type Store interface {
	Reset(ctx context.Context) error
	Join(ctx context.Context, id, addr string) error
	Leave(ctx context.Context, id string) error
	SetServiced(ctx context.Context, id string) error
	Serviced(ctx context.Context) (string, error)
	Members(ctx context.Context) ([]string, error)
}

// RedisStore implements Store using a Redis set of session ids, a hash of
// remote addresses and a key holding the serviced id.
type RedisStore struct {
	rdb         *redis.Client
	keySessions string
	keyAddrs    string
	keyServiced string
}

// NewRedisStore builds a Store backed by Redis. Prefix is optional (e.g., "remote64:server1").
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "remote64"
	}
	return &RedisStore{
		rdb:         rdb,
		keySessions: fmt.Sprintf("%s:sessions", p),
		keyAddrs:    fmt.Sprintf("%s:addrs", p),
		keyServiced: fmt.Sprintf("%s:serviced", p),
	}
}

func (s *RedisStore) Reset(ctx context.Context) error {
	return s.rdb.Del(ctx, s.keySessions, s.keyAddrs, s.keyServiced).Err()
}

func (s *RedisStore) Join(ctx context.Context, id, addr string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.keySessions, id)
		pipe.HSet(ctx, s.keyAddrs, id, addr)
		return nil
	})
	return err
}

func (s *RedisStore) Leave(ctx context.Context, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, s.keySessions, id)
		pipe.HDel(ctx, s.keyAddrs, id)
		return nil
	})
	if err != nil {
		return err
	}
	cur, err := s.Serviced(ctx)
	if err != nil {
		return err
	}
	if cur == id {
		return s.rdb.Del(ctx, s.keyServiced).Err()
	}
	return nil
}

func (s *RedisStore) SetServiced(ctx context.Context, id string) error {
	return s.rdb.Set(ctx, s.keyServiced, id, 0).Err()
}

func (s *RedisStore) Serviced(ctx context.Context) (string, error) {
	id, err := s.rdb.Get(ctx, s.keyServiced).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}

func (s *RedisStore) Members(ctx context.Context) ([]string, error) {
	vals, err := s.rdb.SMembers(ctx, s.keySessions).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(vals)
	return vals, nil
}

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	members  map[string]string
	serviced string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{members: make(map[string]string)}
}

func (s *MemoryStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.members)
	s.serviced = ""
	return nil
}

func (s *MemoryStore) Join(_ context.Context, id, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[id] = addr
	return nil
}

func (s *MemoryStore) Leave(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, id)
	if s.serviced == id {
		s.serviced = ""
	}
	return nil
}

func (s *MemoryStore) SetServiced(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serviced = id
	return nil
}

func (s *MemoryStore) Serviced(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serviced, nil
}

func (s *MemoryStore) Members(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.members))
	for id := range s.members {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Addr returns the remote address recorded for id.
func (s *MemoryStore) Addr(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.members[id]
	return a, ok
}
