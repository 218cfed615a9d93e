package ccnet

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ccnetdrv/ccnetd/internal/ccneterr"
)

// DefaultAddress is the device address used when the link has not
// been multi-dropped.
const DefaultAddress byte = 0x03

const (
	defaultPollInterval  = 100 * time.Millisecond
	defaultEscrowTimeout = 10 * time.Second
)

// Controller owns a serial link to a single bill validator. One
// goroutine — the operate loop — does all reads and writes to the
// port; every other method communicates with it through requestQueue
// and typed result channels so callers never touch the port. The
// cached bill table is guarded by billMu: the setters read it on the
// caller's goroutine (see resolveIndices) to validate cash types
// before queuing.
type Controller struct {
	protocol *deviceProtocol
	operator Operator
	logger   *zap.Logger

	queue *requestQueue

	billMu           sync.RWMutex
	billTypesByIndex map[int]CashType
	indexByCashType  map[CashType]int
	deviceInfo       DeviceInfo

	pollInterval  time.Duration
	escrowTimeout time.Duration

	stopCh  chan struct{}
	stopped chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewController builds a controller for the device reachable on
// port at address. The returned controller does no I/O until Start
// is called.
func NewController(port SerialPort, address byte, operator Operator, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if operator == nil {
		operator = NoopOperator{}
	}
	return &Controller{
		protocol:      newDeviceProtocol(port, address),
		operator:      operator,
		logger:        logger,
		queue:         &requestQueue{},
		pollInterval:  defaultPollInterval,
		escrowTimeout: defaultEscrowTimeout,
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the operate goroutine. It must be called exactly
// once.
func (c *Controller) Start() {
	go c.operate()
}

// Stop signals the operate goroutine to exit after finishing its
// current iteration, then waits for it to do so or for ctx to expire.
// Any request still queued when the goroutine exits is resolved with
// a KindLiveness error rather than left to hang forever.
func (c *Controller) Stop(ctx context.Context) error {
	c.once.Do(func() {
		close(c.stopCh)
	})
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ccneterr.Wrap(ccneterr.KindLiveness, "stop", ctx.Err())
	}
}

type result[T any] struct {
	value T
	err   error
}

// submit enqueues fn to run on the operate goroutine and blocks until
// it completes, ctx is cancelled, or the controller stops. fn itself
// runs with exclusive access to the protocol, so it may freely issue
// device commands.
func submit[T any](c *Controller, ctx context.Context, fn func(p *deviceProtocol) (T, error)) (T, error) {
	resultCh := make(chan result[T], 1)
	accepted := c.queue.push(func() {
		v, err := fn(c.protocol)
		resultCh <- result[T]{value: v, err: err}
	})
	if !accepted {
		var zero T
		return zero, ccneterr.New(ccneterr.KindLiveness, "submit", "controller is stopping")
	}

	select {
	case r := <-resultCh:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ccneterr.Wrap(ccneterr.KindLiveness, "submit", ctx.Err())
	case <-c.stopped:
		var zero T
		return zero, ccneterr.New(ccneterr.KindLiveness, "submit", "controller stopped")
	}
}

// GetDeviceInfo returns the identity block captured the last time the
// device was (re)initialized.
func (c *Controller) GetDeviceInfo(ctx context.Context) (DeviceInfo, error) {
	return submit(c, ctx, func(p *deviceProtocol) (DeviceInfo, error) {
		c.billMu.RLock()
		defer c.billMu.RUnlock()
		return c.deviceInfo, nil
	})
}

// GetCashTypes returns every cash type the device currently
// recognises, as decoded from its bill table.
func (c *Controller) GetCashTypes(ctx context.Context) ([]CashType, error) {
	return submit(c, ctx, func(p *deviceProtocol) ([]CashType, error) {
		c.billMu.RLock()
		defer c.billMu.RUnlock()
		types := make([]CashType, 0, len(c.billTypesByIndex))
		for _, ct := range c.billTypesByIndex {
			types = append(types, ct)
		}
		return types, nil
	})
}

// GetEnabledCashTypes queries the device's current enabled-bill-types
// bitmap and resolves it against the cached bill table.
func (c *Controller) GetEnabledCashTypes(ctx context.Context) ([]CashType, error) {
	return submit(c, ctx, func(p *deviceProtocol) ([]CashType, error) {
		_, enabled, err := p.getStatus()
		if err != nil {
			return nil, err
		}
		indices := decodeEnabledIndices(enabled)

		c.billMu.RLock()
		defer c.billMu.RUnlock()
		var types []CashType
		for _, n := range indices {
			if ct, ok := c.billTypesByIndex[n]; ok {
				types = append(types, ct)
			}
		}
		return types, nil
	})
}

// SetEnabledCashTypes enables exactly the given cash types (and their
// escrow bit) and disables every other one. Any cash type not
// present in the device's current bill table is rejected before the
// request is even queued.
func (c *Controller) SetEnabledCashTypes(ctx context.Context, types []CashType) error {
	indices, err := c.resolveIndices(types)
	if err != nil {
		return err
	}
	data := encodeEnableTriplet(indices)

	_, err = submit(c, ctx, func(p *deviceProtocol) (struct{}, error) {
		return struct{}{}, p.enableBillTypes(data)
	})
	return err
}

// GetCashTypesSecurityLevels returns the security level the device
// currently reports for every cash type in its bill table.
func (c *Controller) GetCashTypesSecurityLevels(ctx context.Context) (map[CashType]BillSecurityLevel, error) {
	return submit(c, ctx, func(p *deviceProtocol) (map[CashType]BillSecurityLevel, error) {
		security, _, err := p.getStatus()
		if err != nil {
			return nil, err
		}

		c.billMu.RLock()
		defer c.billMu.RUnlock()
		indices := make([]int, 0, len(c.billTypesByIndex))
		for n := range c.billTypesByIndex {
			indices = append(indices, n)
		}
		byIndex := decodeSecurityTriplet(security, indices)

		levels := make(map[CashType]BillSecurityLevel, len(byIndex))
		for n, level := range byIndex {
			levels[c.billTypesByIndex[n]] = level
		}
		return levels, nil
	})
}

// SetCashTypesSecurityLevels sets the security level for the given
// cash types. The device receives a full bitmap, so every cash type
// not present in levels is set to normal; cash types absent from the
// current bill table are rejected before the request is queued.
func (c *Controller) SetCashTypesSecurityLevels(ctx context.Context, levels map[CashType]BillSecurityLevel) error {
	byIndex := make(map[int]BillSecurityLevel, len(levels))
	var types []CashType
	for ct := range levels {
		types = append(types, ct)
	}
	indices, err := c.resolveIndices(types)
	if err != nil {
		return err
	}
	for i, ct := range types {
		byIndex[indices[i]] = levels[ct]
	}
	data := encodeSecurityTriplet(byIndex)

	_, err = submit(c, ctx, func(p *deviceProtocol) (struct{}, error) {
		return struct{}{}, p.setSecurity(data)
	})
	return err
}

// resolveIndices translates cash types into bill-table indices under
// the cached bill table, rejecting any cash type the device has
// never reported. This runs on the caller's goroutine, before the
// request reaches the queue, so a bad request never occupies a slot
// on the operate goroutine.
func (c *Controller) resolveIndices(types []CashType) ([]int, error) {
	c.billMu.RLock()
	defer c.billMu.RUnlock()
	indices := make([]int, 0, len(types))
	for _, ct := range types {
		n, ok := c.indexByCashType[ct]
		if !ok {
			return nil, ccneterr.New(ccneterr.KindSemantic, "resolve_cash_type", "specified cash type is not supported: "+ct.String())
		}
		indices = append(indices, n)
	}
	return indices, nil
}

// setBillTable replaces the cached bill table, as decoded from a
// fresh get-bill-table response.
func (c *Controller) setBillTable(entries []billTypeEntry) {
	c.billMu.Lock()
	defer c.billMu.Unlock()
	c.billTypesByIndex = make(map[int]CashType, len(entries))
	c.indexByCashType = make(map[CashType]int, len(entries))
	for _, e := range entries {
		c.billTypesByIndex[e.Index] = e.CashType
		c.indexByCashType[e.CashType] = e.Index
	}
}

func (c *Controller) setDeviceInfo(info DeviceInfo) {
	c.billMu.Lock()
	defer c.billMu.Unlock()
	c.deviceInfo = info
}

func (c *Controller) cashTypeForIndex(n int) (CashType, bool) {
	c.billMu.RLock()
	defer c.billMu.RUnlock()
	ct, ok := c.billTypesByIndex[n]
	return ct, ok
}

// operate is the device-owning goroutine: it repeatedly
// initializes the link, then polls and services requests until the
// drop cassette is reinstalled or a poll reports a bill index missing
// from the cached bill table (either forces re-initialization), or
// the controller is told to stop.
func (c *Controller) operate() {
	defer close(c.done)
	defer close(c.stopped)
	defer c.drainOnStop()

	for !c.stopping() {
		if err := c.initialize(); err != nil {
			c.logger.Error("initialize failed, retrying", zap.Error(err))
			time.Sleep(c.pollInterval)
			continue
		}

		var previous DeviceState
		initializationRequired := false
		for !c.stopping() && !initializationRequired {
			current, err := c.protocol.poll()
			if err != nil {
				c.logger.Warn("poll failed", zap.Error(err))
				time.Sleep(c.pollInterval)
				continue
			}

			if current.Code != previous.Code {
				if previous.Code == StateDropCassetteOutOfPosition {
					c.operator.DropCassetteInstalled(context.Background())
					initializationRequired = true
					previous = current
					continue
				}
				var faulted bool
				current, faulted = c.handleStateEntry(previous, current)
				if faulted {
					initializationRequired = true
					previous = current
					continue
				}
			}
			previous = current

			if fn := c.queue.popOne(); fn != nil {
				fn()
			}

			time.Sleep(c.pollInterval)
		}
	}
}

// handleStateEntry reacts to a state transition and returns the
// state that should be recorded as "previous" for the next
// iteration — ordinarily current unchanged, except for the hold
// decision, which re-enters idling so the next poll cycle asks for a
// decision again while the held bill is still in escrow — plus
// whether the device reported an info index absent from the cached
// bill table. That is a protocol error: the caller must abort the
// inner cycle and force re-initialization rather than guess at what
// the device meant.
func (c *Controller) handleStateEntry(previous, current DeviceState) (DeviceState, bool) {
	ctx := context.Background()
	switch current.Code {
	case StateDropCassetteFull:
		c.operator.DropCassetteFull(ctx)
	case StateDropCassetteOutOfPosition:
		c.operator.DropCassetteRemoved(ctx)
	case StateValidatorJammed, StateDropCassetteJammed, StateFailure:
		c.logger.Warn("device reported a fault state", zap.Stringer("state", current.Code))
	case StateEscrowPosition:
		bill, known := c.cashTypeForIndex(int(current.Info))
		if !known {
			c.logger.Error("escrow position reports unknown bill index, reinitializing",
				zap.Int("index", int(current.Info)))
			return current, true
		}
		switch c.awaitCashAction(bill) {
		case ActionAcceptCash:
			if err := c.protocol.stack(); err != nil {
				c.logger.Error("stack failed", zap.Error(err))
			}
		case ActionHoldCash:
			if err := c.protocol.hold(); err != nil {
				c.logger.Error("hold failed", zap.Error(err))
			}
			// Re-enter idling so the escrow handler fires again on
			// the next poll instead of treating the bill as already
			// resolved.
			return DeviceState{Code: StateIdling}, false
		default:
			if err := c.protocol.returnBill(); err != nil {
				c.logger.Error("return failed", zap.Error(err))
			}
		}
	case StateBillStacked:
		bill, ok := c.cashTypeForIndex(int(current.Info))
		if !ok {
			c.logger.Error("bill stacked reports unknown bill index, reinitializing",
				zap.Int("index", int(current.Info)))
			return current, true
		}
		c.operator.CashAccepted(ctx, bill)
	case StateBillReturned:
		bill, ok := c.cashTypeForIndex(int(current.Info))
		if !ok {
			c.logger.Error("bill returned reports unknown bill index, reinitializing",
				zap.Int("index", int(current.Info)))
			return current, true
		}
		c.operator.CashReturned(ctx, bill)
	}
	return current, false
}

// awaitCashAction asks the operator what to do with a bill sitting
// in escrow, defaulting to returning it if no decision arrives
// within the escrow timeout. The operator's context is cancelled when
// the timeout expires.
func (c *Controller) awaitCashAction(bill CashType) CashAction {
	ctx, cancel := context.WithTimeout(context.Background(), c.escrowTimeout)
	defer cancel()
	decided := make(chan CashAction, 1)
	go func() {
		decided <- c.operator.RequestCashAction(ctx, bill)
	}()
	select {
	case action := <-decided:
		return action
	case <-ctx.Done():
		c.logger.Warn("escrow decision timed out, returning bill", zap.Stringer("bill", bill))
		return ActionReturnCash
	}
}

// initialize resets the device, fetches its identity, and rebuilds
// the cached bill table. It runs every time the operate loop (re)
// enters the outer cycle.
func (c *Controller) initialize() error {
	if err := c.protocol.reset(); err != nil {
		return err
	}
	info, err := c.protocol.identification()
	if err != nil {
		return err
	}
	c.setDeviceInfo(info)

	raw, err := c.protocol.getBillTable()
	if err != nil {
		return err
	}
	entries, err := decodeBillTable(raw)
	if err != nil {
		return err
	}
	c.setBillTable(entries)
	return nil
}

func (c *Controller) stopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// drainOnStop discards every request still queued when the operate
// goroutine exits, without running them against a port that's going
// away. Their callers are still blocked in submit, waiting on
// resultCh or c.stopped; closing c.stopped (deferred after this runs)
// is what actually unblocks them with a liveness error.
func (c *Controller) drainOnStop() {
	c.queue.closeAndDrain()
}
