package app

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"backoffice/internal/storage"
)

// approvalLister is the part of the approval store the watcher polls.
type approvalLister interface {
	ListPending() ([]storage.Approval, error)
}

// ApprovalWatcher polls the database for approvals written by a standalone
// MCP process and reports each new one once.
type ApprovalWatcher struct {
	store    approvalLister
	interval time.Duration
	onNew    func(storage.Approval)
	logger   *zap.Logger

	mu      sync.Mutex
	emitted map[string]bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewApprovalWatcher creates a watcher. interval <= 0 means one second.
func NewApprovalWatcher(store approvalLister, interval time.Duration, onNew func(storage.Approval), logger *zap.Logger) *ApprovalWatcher {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalWatcher{
		store:    store,
		interval: interval,
		onNew:    onNew,
		logger:   logger,
		emitted:  map[string]bool{},
	}
}

// Start begins the polling loop. It stops when ctx is done or Stop is called.
func (w *ApprovalWatcher) Start(ctx context.Context) {
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	go w.pollLoop(ctx)
}

// Stop terminates the polling loop and waits for it.
func (w *ApprovalWatcher) Stop() {
	if w.stopCh == nil {
		return
	}
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.done
}

func (w *ApprovalWatcher) pollLoop(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll()
	for {
		select {
		case <-ticker.C:
			w.poll()
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *ApprovalWatcher) poll() {
	pending, err := w.store.ListPending()
	if err != nil {
		w.logger.Warn("list pending approvals", zap.Error(err))
		return
	}

	live := make(map[string]bool, len(pending))
	var fresh []storage.Approval
	w.mu.Lock()
	for _, a := range pending {
		live[a.ID] = true
		if !w.emitted[a.ID] {
			w.emitted[a.ID] = true
			fresh = append(fresh, a)
		}
	}
	// Forget approvals that were resolved or withdrawn.
	for id := range w.emitted {
		if !live[id] {
			delete(w.emitted, id)
		}
	}
	w.mu.Unlock()

	for _, a := range fresh {
		w.onNew(a)
	}
}
