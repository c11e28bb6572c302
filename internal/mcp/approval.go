package mcpserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"extractor/internal/storage"

	"github.com/google/uuid"
)

// EventEmitter allows the approval queue to announce pending actions.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// PendingAction represents a destructive operation awaiting user approval.
type PendingAction struct {
	ID          string `json:"id"`
	Tool        string `json:"tool"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
	Metadata    string `json:"metadata"` // JSON with extra context (e.g. job id)
}

// actionResult is sent through the channel when user approves/rejects.
type actionResult struct {
	approved bool
}

// ApprovalQueue gates tool calls that deliver data to a remote datasheet.
// It supports three modes:
//   - auto: every request is approved (extractor mcp --auto-approve)
//   - store: requests are written to mcp_approvals and resolved by another
//     process (extractor approvals approve <id>)
//   - in-process: channels, resolved through Approve/Reject
type ApprovalQueue struct {
	mu      sync.Mutex
	pending map[string]chan actionResult
	emitter EventEmitter
	timeout time.Duration
	poll    time.Duration

	store       *storage.ApprovalStore
	autoApprove bool
}

// NewApprovalQueue creates an in-process queue.
func NewApprovalQueue(emitter EventEmitter) *ApprovalQueue {
	return &ApprovalQueue{
		pending: make(map[string]chan actionResult),
		emitter: emitter,
		timeout: 120 * time.Second,
		poll:    500 * time.Millisecond,
	}
}

// SetStore enables cross-process approval through SQLite.
func (q *ApprovalQueue) SetStore(store *storage.ApprovalStore) {
	q.store = store
}

// SetAutoApprove approves every request without asking.
func (q *ApprovalQueue) SetAutoApprove(v bool) {
	q.autoApprove = v
}

// SetTimeout changes how long a request waits for a decision.
func (q *ApprovalQueue) SetTimeout(d time.Duration) {
	q.timeout = d
}

// Request asks for approval and blocks until approved, rejected, timed out or
// ctx is cancelled. metadata is optional JSON with extra context.
func (q *ApprovalQueue) Request(ctx context.Context, tool, description string, metadata ...string) (bool, error) {
	if q.autoApprove {
		return true, nil
	}
	id := uuid.New().String()
	meta := "{}"
	if len(metadata) > 0 && metadata[0] != "" {
		meta = metadata[0]
	}

	if q.store != nil {
		return q.requestViaStore(ctx, id, tool, description, meta)
	}
	return q.requestViaChannel(ctx, id, tool, description, meta)
}

// requestViaStore writes a pending approval to SQLite and polls until resolved.
func (q *ApprovalQueue) requestViaStore(ctx context.Context, id, tool, description, metadata string) (bool, error) {
	if err := q.store.Create(&storage.Approval{ID: id, Tool: tool, Description: description, Metadata: metadata}); err != nil {
		return false, fmt.Errorf("insert approval: %w", err)
	}
	defer q.store.Delete(id)

	q.emitter.Emit(ctx, "mcp:approval-required", PendingAction{
		ID:          id,
		Tool:        tool,
		Description: description,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Metadata:    metadata,
	})

	deadline := time.NewTimer(q.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status, err := q.store.Status(id)
			if err != nil {
				continue
			}
			switch status {
			case storage.ApprovalApproved:
				return true, nil
			case storage.ApprovalRejected:
				return false, fmt.Errorf("action rejected by user: %s", tool)
			}
		case <-deadline.C:
			return false, fmt.Errorf("action timed out after %s: %s", q.timeout, tool)
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (q *ApprovalQueue) requestViaChannel(ctx context.Context, id, tool, description, metadata string) (bool, error) {
	ch := make(chan actionResult, 1)

	q.mu.Lock()
	q.pending[id] = ch
	q.mu.Unlock()
	defer q.cleanup(id)

	q.emitter.Emit(ctx, "mcp:approval-required", PendingAction{
		ID:          id,
		Tool:        tool,
		Description: description,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Metadata:    metadata,
	})

	select {
	case result := <-ch:
		if !result.approved {
			return false, fmt.Errorf("action rejected by user: %s", tool)
		}
		return true, nil
	case <-time.After(q.timeout):
		q.emitter.Emit(ctx, "mcp:approval-dismissed", map[string]string{"id": id})
		return false, fmt.Errorf("action timed out after %s: %s", q.timeout, tool)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Pending returns the ids of in-process requests awaiting a decision.
func (q *ApprovalQueue) Pending() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.pending))
	for id := range q.pending {
		ids = append(ids, id)
	}
	return ids
}

// Approve marks a pending action as approved (in-process mode).
func (q *ApprovalQueue) Approve(actionID string) {
	q.resolve(actionID, true)
}

// Reject marks a pending action as rejected (in-process mode).
func (q *ApprovalQueue) Reject(actionID string) {
	q.resolve(actionID, false)
}

func (q *ApprovalQueue) resolve(actionID string, approved bool) {
	q.mu.Lock()
	ch, ok := q.pending[actionID]
	q.mu.Unlock()
	if ok {
		select {
		case ch <- actionResult{approved: approved}:
		default:
		}
	}
}

func (q *ApprovalQueue) cleanup(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}
