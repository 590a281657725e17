package approval

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oncallops/incident-core/pkg/eventbus"
	"github.com/oncallops/incident-core/pkg/types"
)

// Registry is the ApprovalRegistry: a Store plus the in-process wait/wake
// channel bookkeeping CommandGate needs to suspend an APPROVAL-mode
// execution. The Store may be shared across replicas (RedisStore); the wait
// channels are always local to the process that issued Wait, since only
// that goroutine is blocked on the outcome.
type Registry struct {
	store Store
	bus   *eventbus.Bus

	mu      sync.Mutex
	waiters map[string]chan types.ApprovalStatus

	retention time.Duration
}

// New constructs a Registry over store. bus may be nil. retention configures
// Sweep's terminal-record cutoff (§6 ApprovalConfig.RetentionHours).
func New(store Store, bus *eventbus.Bus, retention time.Duration) *Registry {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Registry{
		store:     store,
		bus:       bus,
		waiters:   make(map[string]chan types.ApprovalStatus),
		retention: retention,
	}
}

// Request creates a pending ApprovalRequest for plan and returns it
// immediately; callers that need the eventual decision call Wait with the
// returned ID.
func (r *Registry) Request(ctx context.Context, incidentID string, plan []types.ResolutionAction, timeout time.Duration) (types.ApprovalRequest, error) {
	now := time.Now()
	req := types.ApprovalRequest{
		ID:          uuid.NewString(),
		IncidentID:  incidentID,
		ActionPlan:  plan,
		RequestedAt: now,
		TimeoutAt:   now.Add(timeout),
		Status:      types.ApprovalPending,
	}
	if err := r.store.Put(ctx, req); err != nil {
		return types.ApprovalRequest{}, err
	}

	r.mu.Lock()
	r.waiters[req.ID] = make(chan types.ApprovalStatus, 1)
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(types.Event{
			Level:      types.EventInfo,
			Message:    "approval requested",
			IncidentID: incidentID,
			Stage:      types.StageGating,
			Attributes: map[string]interface{}{"approval_id": req.ID},
		})
	}
	return req, nil
}

// Wait blocks until id is approved, rejected, or its timeout elapses,
// whichever happens first, and returns the final status. A context
// cancellation propagates as ctx.Err() without deciding the request (a
// caller that gives up does not itself resolve the approval).
func (r *Registry) Wait(ctx context.Context, id string, timeout time.Duration) (types.ApprovalStatus, error) {
	r.mu.Lock()
	ch, ok := r.waiters[id]
	r.mu.Unlock()
	if !ok {
		return "", errNoSuchWaiter(id)
	}

	select {
	case status := <-ch:
		return status, nil
	case <-time.After(timeout):
		req, err := r.store.Decide(ctx, id, types.ApprovalExpired, "timeout")
		if err != nil {
			// Lost the race to a concurrent Approve/Reject; read back the
			// decision that actually won.
			existing, _, getErr := r.store.Get(ctx, id)
			if getErr == nil {
				r.cleanupWaiter(id)
				return existing.Status, nil
			}
			return "", err
		}
		r.wake(id, req.Status)
		return req.Status, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Approve is a one-shot, monotonic transition from pending to approved.
func (r *Registry) Approve(ctx context.Context, id, comments string) error {
	return r.decide(ctx, id, types.ApprovalApproved, comments)
}

// Reject is a one-shot, monotonic transition from pending to rejected.
func (r *Registry) Reject(ctx context.Context, id, comments string) error {
	return r.decide(ctx, id, types.ApprovalRejected, comments)
}

func (r *Registry) decide(ctx context.Context, id string, status types.ApprovalStatus, comments string) error {
	req, err := r.store.Decide(ctx, id, status, comments)
	if err != nil {
		return err
	}
	r.wake(id, req.Status)

	if r.bus != nil {
		r.bus.Publish(types.Event{
			Level:      types.EventInfo,
			Message:    "approval decided: " + string(req.Status),
			IncidentID: req.IncidentID,
			Stage:      types.StageGating,
			Attributes: map[string]interface{}{"approval_id": id, "status": string(req.Status)},
		})
	}
	return nil
}

func (r *Registry) wake(id string, status types.ApprovalStatus) {
	r.mu.Lock()
	ch, ok := r.waiters[id]
	delete(r.waiters, id)
	r.mu.Unlock()
	if ok {
		ch <- status
	}
}

func (r *Registry) cleanupWaiter(id string) {
	r.mu.Lock()
	delete(r.waiters, id)
	r.mu.Unlock()
}

// List returns every currently pending ApprovalRequest.
func (r *Registry) List(ctx context.Context) ([]types.ApprovalRequest, error) {
	return r.store.ListPending(ctx)
}

// Get looks up a single request by id.
func (r *Registry) Get(ctx context.Context, id string) (types.ApprovalRequest, bool, error) {
	return r.store.Get(ctx, id)
}

// StartSweeper launches a background goroutine that purges terminal
// requests older than the configured retention on every tick, until ctx is
// canceled. Callers own the returned goroutine's lifetime via ctx.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = r.store.Sweep(ctx, time.Now().Add(-r.retention))
			}
		}
	}()
}

type noSuchWaiterError struct{ id string }

func (e noSuchWaiterError) Error() string {
	return "approval: no waiter registered for request " + e.id
}

func errNoSuchWaiter(id string) error {
	return noSuchWaiterError{id: id}
}
