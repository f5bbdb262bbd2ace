package agent

import (
	"errors"
	"fmt"
	"sync"

	"github.com/openraccoon/raccoon/pkg/models"
)

// ErrNoSuchApproval reports a decision submitted for a request id that is
// not pending, either because it never existed or because the turn has
// already cleaned it up.
var ErrNoSuchApproval = errors.New("no such approval request")

// ApprovalBroker is the rendez-vous point between a turn waiting on an
// approval-gated tool call and the out-of-band decision submitter. Each
// pending request is a single-shot channel keyed by request id: the turn
// creates the entry before announcing the request, blocks on the channel,
// and removes the entry on every exit path.
type ApprovalBroker struct {
	mu      sync.Mutex
	pending map[string]chan models.ApprovalDecision
}

// NewApprovalBroker creates an empty broker.
func NewApprovalBroker() *ApprovalBroker {
	return &ApprovalBroker{
		pending: make(map[string]chan models.ApprovalDecision),
	}
}

// Create registers a pending request and returns the channel the decision
// will arrive on. The channel is buffered so Resolve never blocks even if
// the waiting turn has already been cancelled. Re-creating an id replaces
// the prior entry.
func (b *ApprovalBroker) Create(requestID string) <-chan models.ApprovalDecision {
	ch := make(chan models.ApprovalDecision, 1)
	b.mu.Lock()
	b.pending[requestID] = ch
	b.mu.Unlock()
	return ch
}

// Resolve delivers a decision to the waiting turn and retires the entry,
// so a request resolves at most once. Unknown or already-resolved ids
// fail with ErrNoSuchApproval.
func (b *ApprovalBroker) Resolve(requestID string, decision models.ApprovalDecision) error {
	b.mu.Lock()
	ch, ok := b.pending[requestID]
	if ok {
		delete(b.pending, requestID)
	}
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchApproval, requestID)
	}
	ch <- decision
	return nil
}

// Remove discards a pending entry without resolving it. Turns call this
// on every exit path, so removing an id that Resolve already retired is
// a no-op.
func (b *ApprovalBroker) Remove(requestID string) {
	b.mu.Lock()
	delete(b.pending, requestID)
	b.mu.Unlock()
}

// PendingCount returns the number of requests currently awaiting a
// decision.
func (b *ApprovalBroker) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
