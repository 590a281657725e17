// Package approval implements the ApprovalRegistry: a pending-request store
// plus the wait/wake machinery that lets the CommandGate suspend an
// APPROVAL-mode execution until a human decides (§4.5).
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oncallops/incident-core/internal/apperrors"
	"github.com/oncallops/incident-core/pkg/types"
)

// Store is the persistence contract for ApprovalRequests. Decide must be a
// one-shot, monotonic transition: it fails if the request is already
// terminal, so a late timeout racing a human decision can never clobber it.
type Store interface {
	Put(ctx context.Context, req types.ApprovalRequest) error
	Get(ctx context.Context, id string) (types.ApprovalRequest, bool, error)
	Decide(ctx context.Context, id string, status types.ApprovalStatus, comments string) (types.ApprovalRequest, error)
	ListPending(ctx context.Context) ([]types.ApprovalRequest, error)
	Sweep(ctx context.Context, olderThan time.Time) error
}

// MemoryStore is the default in-process Store, a mutex-guarded map. It is
// what a single-process deployment of the core uses; RedisStore exists for
// deployments that share ApprovalRegistry state across replicas.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]types.ApprovalRequest
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]types.ApprovalRequest)}
}

func (s *MemoryStore) Put(_ context.Context, req types.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (types.ApprovalRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if ok {
		req = expireIfDue(req)
		s.requests[id] = req
	}
	return req, ok, nil
}

func (s *MemoryStore) Decide(_ context.Context, id string, status types.ApprovalStatus, comments string) (types.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return types.ApprovalRequest{}, apperrors.NewNotFoundError(fmt.Sprintf("approval request %s", id))
	}
	req = expireIfDue(req)
	if req.IsTerminal() {
		s.requests[id] = req
		return types.ApprovalRequest{}, apperrors.New(apperrors.ErrorTypeConflict, "approval request already decided").
			WithDetailsf("id=%s status=%s", id, req.Status)
	}
	req.Status = status
	req.Comments = comments
	s.requests[id] = req
	return req, nil
}

func (s *MemoryStore) ListPending(_ context.Context) ([]types.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []types.ApprovalRequest
	for id, req := range s.requests {
		req = expireIfDue(req)
		s.requests[id] = req
		if req.Status == types.ApprovalPending {
			pending = append(pending, req)
		}
	}
	return pending, nil
}

func (s *MemoryStore) Sweep(_ context.Context, olderThan time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, req := range s.requests {
		if req.IsTerminal() && req.RequestedAt.Before(olderThan) {
			delete(s.requests, id)
		}
	}
	return nil
}

func expireIfDue(req types.ApprovalRequest) types.ApprovalRequest {
	if req.Status == types.ApprovalPending && time.Now().After(req.TimeoutAt) {
		req.Status = types.ApprovalExpired
	}
	return req
}

// RedisStore is the cross-replica alternate Store implementation, grounded
// on go-redis/v9. With the default prefix, requests are JSON blobs at key
// "approval:request:<id>"; pending ids live in the "approval:pending" set so
// ListPending avoids a KEYS scan.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an existing *redis.Client. prefix namespaces keys
// (e.g. by environment); empty defaults to "approval".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "approval"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string {
	return fmt.Sprintf("%s:request:%s", s.prefix, id)
}

func (s *RedisStore) pendingSetKey() string {
	return fmt.Sprintf("%s:pending", s.prefix)
}

func (s *RedisStore) Put(ctx context.Context, req types.ApprovalRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal approval request")
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(req.ID), data, 0)
	pipe.SAdd(ctx, s.pendingSetKey(), req.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "redis put approval request")
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (types.ApprovalRequest, bool, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return types.ApprovalRequest{}, false, nil
	}
	if err != nil {
		return types.ApprovalRequest{}, false, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "redis get approval request")
	}
	var req types.ApprovalRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return types.ApprovalRequest{}, false, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "unmarshal approval request")
	}
	expired := expireIfDue(req)
	if expired.Status != req.Status {
		_ = s.writeBack(ctx, expired)
		req = expired
	}
	return req, true, nil
}

func (s *RedisStore) writeBack(ctx context.Context, req types.ApprovalRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(req.ID), data, 0)
	if req.IsTerminal() {
		pipe.SRem(ctx, s.pendingSetKey(), req.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Decide(ctx context.Context, id string, status types.ApprovalStatus, comments string) (types.ApprovalRequest, error) {
	req, ok, err := s.Get(ctx, id)
	if err != nil {
		return types.ApprovalRequest{}, err
	}
	if !ok {
		return types.ApprovalRequest{}, apperrors.NewNotFoundError(fmt.Sprintf("approval request %s", id))
	}
	if req.IsTerminal() {
		return types.ApprovalRequest{}, apperrors.New(apperrors.ErrorTypeConflict, "approval request already decided").
			WithDetailsf("id=%s status=%s", id, req.Status)
	}
	req.Status = status
	req.Comments = comments
	if err := s.writeBack(ctx, req); err != nil {
		return types.ApprovalRequest{}, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "redis decide approval request")
	}
	return req, nil
}

func (s *RedisStore) ListPending(ctx context.Context) ([]types.ApprovalRequest, error) {
	ids, err := s.client.SMembers(ctx, s.pendingSetKey()).Result()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "redis list pending approvals")
	}
	var pending []types.ApprovalRequest
	for _, id := range ids {
		req, ok, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok && req.Status == types.ApprovalPending {
			pending = append(pending, req)
		}
	}
	return pending, nil
}

// Sweep is a no-op for RedisStore: terminal requests fall out of the
// pending set already, and Redis key expiry (if configured by the deployer
// on the key prefix) handles reclamation. Kept to satisfy Store.
func (s *RedisStore) Sweep(context.Context, time.Time) error {
	return nil
}
