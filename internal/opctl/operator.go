package opctl

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ccnetdrv/ccnetd/internal/ccnet"
)

// HTTPOperator implements ccnet.Operator by broadcasting every
// upcall over the admin websocket hub and, for escrow decisions,
// blocking until an admin resolves a pending decision through the
// HTTP API (or the controller's own escrow timeout gives up on us
// first — RequestCashAction never enforces a timeout of its own).
type HTTPOperator struct {
	hub    *Hub
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]chan ccnet.CashAction
}

func NewHTTPOperator(hub *Hub, logger *zap.Logger) *HTTPOperator {
	return &HTTPOperator{
		hub:     hub,
		logger:  logger,
		pending: make(map[string]chan ccnet.CashAction),
	}
}

type escrowEvent struct {
	ID   string `json:"id"`
	Bill string `json:"bill"`
}

func (o *HTTPOperator) DropCassetteFull(ctx context.Context) {
	o.hub.Broadcast(EventCassetteFull, nil, time.Now())
}

func (o *HTTPOperator) DropCassetteRemoved(ctx context.Context) {
	o.hub.Broadcast(EventCassetteRemoved, nil, time.Now())
}

func (o *HTTPOperator) DropCassetteInstalled(ctx context.Context) {
	o.hub.Broadcast(EventDeviceState, map[string]string{"note": "drop cassette reinstalled, reinitializing"}, time.Now())
}

func (o *HTTPOperator) CashAccepted(ctx context.Context, bill ccnet.CashType) {
	o.hub.Broadcast(EventCashAccepted, map[string]string{"bill": bill.String()}, time.Now())
}

func (o *HTTPOperator) CashReturned(ctx context.Context, bill ccnet.CashType) {
	o.hub.Broadcast(EventCashReturned, map[string]string{"bill": bill.String()}, time.Now())
}

// RequestCashAction registers a pending decision, broadcasts it to
// every connected admin client, and blocks until Decide resolves it
// or ctx is cancelled. The controller wraps this call in its own
// fixed escrow timeout, so a decision that never arrives still
// resolves to returning the bill — this method just needs to not
// leak the pending entry when that happens.
func (o *HTTPOperator) RequestCashAction(ctx context.Context, bill ccnet.CashType) ccnet.CashAction {
	id := uuid.New().String()
	ch := make(chan ccnet.CashAction, 1)

	o.mu.Lock()
	o.pending[id] = ch
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.pending, id)
		o.mu.Unlock()
	}()

	o.hub.Broadcast(EventEscrow, escrowEvent{ID: id, Bill: bill.String()}, time.Now())
	o.logger.Info("escrow decision requested", zap.String("id", id), zap.Stringer("bill", bill))

	select {
	case action := <-ch:
		return action
	case <-ctx.Done():
		return ccnet.ActionReturnCash
	}
}

// Decide resolves a pending escrow decision by correlation ID.
// Returns false if no decision with that ID is currently pending
// (already resolved, timed out, or never existed).
func (o *HTTPOperator) Decide(id string, action ccnet.CashAction) bool {
	o.mu.Lock()
	ch, ok := o.pending[id]
	o.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- action:
		return true
	default:
		return false
	}
}
