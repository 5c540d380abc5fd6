package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"backoffice/internal/service"
	"backoffice/internal/storage"
)

// Approval events for in-process listeners.
const (
	EventApprovalRequired  = "mcp:approval-required"
	EventApprovalDismissed = "mcp:approval-dismissed"
)

// ErrRejected is returned when a human rejects a destructive action.
var ErrRejected = errors.New("action rejected by user")

// PendingAction represents a destructive operation awaiting user approval.
type PendingAction struct {
	ID          string `json:"id"`
	Tool        string `json:"tool"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
	Metadata    string `json:"metadata"` // JSON with extra context (e.g. row ids)
}

// ApprovalBackend persists approvals so another process can resolve them.
type ApprovalBackend interface {
	CreateApproval(a *storage.Approval) error
	Status(id string) (string, error)
	DeleteApproval(id string) error
}

// ApprovalQueue manages human-in-the-loop approval for destructive MCP tool calls.
// It supports two modes:
//   - In-process: channels, resolved through Approve/Reject
//   - Store-backed (standalone MCP): writes to mcp_approvals and polls for
//     the status set by `backoffice approve|reject`
type ApprovalQueue struct {
	mu      sync.Mutex
	pending map[string]chan bool
	emitter service.EventEmitter
	logger  *zap.Logger
	timeout time.Duration
	poll    time.Duration
	store   ApprovalBackend
	now     func() time.Time
}

// NewApprovalQueue creates an in-process queue. timeout <= 0 means two minutes.
func NewApprovalQueue(emitter service.EventEmitter, timeout time.Duration, logger *zap.Logger) *ApprovalQueue {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if emitter == nil {
		emitter = service.NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalQueue{
		pending: make(map[string]chan bool),
		emitter: emitter,
		logger:  logger,
		timeout: timeout,
		poll:    500 * time.Millisecond,
		now:     time.Now,
	}
}

// SetStore switches the queue to store-backed mode.
func (q *ApprovalQueue) SetStore(store ApprovalBackend) {
	q.store = store
}

// Request blocks until the action is approved, rejected, times out or ctx is
// done. A nil error means approved.
// metadata is optional JSON with extra context.
func (q *ApprovalQueue) Request(ctx context.Context, tool, description string, metadata ...string) error {
	id := uuid.New().String()
	meta := "{}"
	if len(metadata) > 0 && metadata[0] != "" {
		meta = metadata[0]
	}
	q.logger.Info("approval requested", zap.String("id", id), zap.String("tool", tool), zap.String("description", description))

	if q.store != nil {
		return q.requestViaStore(ctx, id, tool, description, meta)
	}
	return q.requestViaChannel(ctx, id, tool, description, meta)
}

// requestViaStore writes a pending approval and polls until resolved.
func (q *ApprovalQueue) requestViaStore(ctx context.Context, id, tool, description, metadata string) error {
	err := q.store.CreateApproval(&storage.Approval{
		ID:          id,
		Tool:        tool,
		Description: description,
		Metadata:    metadata,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := q.store.DeleteApproval(id); err != nil {
			q.logger.Warn("delete approval", zap.String("id", id), zap.Error(err))
		}
	}()

	timeout := time.NewTimer(q.timeout)
	defer timeout.Stop()
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status, err := q.store.Status(id)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("%w: %s (approval %s withdrawn)", ErrRejected, tool, id)
				}
				continue
			}
			switch status {
			case storage.ApprovalApproved:
				return nil
			case storage.ApprovalRejected:
				return fmt.Errorf("%w: %s", ErrRejected, tool)
			}
		case <-timeout.C:
			return fmt.Errorf("action timed out after %s: %s", q.timeout, tool)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *ApprovalQueue) requestViaChannel(ctx context.Context, id, tool, description, metadata string) error {
	ch := make(chan bool, 1)

	q.mu.Lock()
	q.pending[id] = ch
	q.mu.Unlock()
	defer q.cleanup(id)

	q.emitter.Emit(ctx, EventApprovalRequired, PendingAction{
		ID:          id,
		Tool:        tool,
		Description: description,
		CreatedAt:   q.now().UTC().Format(time.RFC3339),
		Metadata:    metadata,
	})

	timeout := time.NewTimer(q.timeout)
	defer timeout.Stop()

	select {
	case approved := <-ch:
		if !approved {
			return fmt.Errorf("%w: %s", ErrRejected, tool)
		}
		return nil
	case <-timeout.C:
		q.emitter.Emit(ctx, EventApprovalDismissed, map[string]string{"id": id})
		return fmt.Errorf("action timed out after %s: %s", q.timeout, tool)
	case <-ctx.Done():
		q.emitter.Emit(ctx, EventApprovalDismissed, map[string]string{"id": id})
		return ctx.Err()
	}
}

// Approve marks a pending in-process action as approved. It reports whether
// the action was waiting.
func (q *ApprovalQueue) Approve(actionID string) bool {
	return q.resolve(actionID, true)
}

// Reject marks a pending in-process action as rejected.
func (q *ApprovalQueue) Reject(actionID string) bool {
	return q.resolve(actionID, false)
}

// Pending returns the ids of in-process actions still waiting.
func (q *ApprovalQueue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.pending))
	for id := range q.pending {
		ids = append(ids, id)
	}
	return ids
}

func (q *ApprovalQueue) resolve(actionID string, approved bool) bool {
	q.mu.Lock()
	ch, ok := q.pending[actionID]
	if ok {
		delete(q.pending, actionID)
	}
	q.mu.Unlock()
	if ok {
		ch <- approved
	}
	return ok
}

func (q *ApprovalQueue) cleanup(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}
