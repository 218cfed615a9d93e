package ccnet

import (
	"context"
	"testing"
	"time"

	"github.com/ccnetdrv/ccnetd/internal/ccneterr"
)

// recordingOperator records every upcall it receives so tests can
// assert on ordering and content without a real device.
type recordingOperator struct {
	NoopOperator
	escrowed chan CashType
	action   CashAction
	accepted chan CashType
	returned chan CashType
}

func newRecordingOperator(action CashAction) *recordingOperator {
	return &recordingOperator{
		escrowed: make(chan CashType, 8),
		action:   action,
		accepted: make(chan CashType, 8),
		returned: make(chan CashType, 8),
	}
}

func (r *recordingOperator) RequestCashAction(ctx context.Context, bill CashType) CashAction {
	r.escrowed <- bill
	return r.action
}

func (r *recordingOperator) CashAccepted(ctx context.Context, bill CashType) {
	r.accepted <- bill
}

func (r *recordingOperator) CashReturned(ctx context.Context, bill CashType) {
	r.returned <- bill
}

// identificationFrame builds a scripted 34-byte identification
// response: 15-byte part number, 12-byte serial number, 7-byte
// asset number.
func identificationFrame() []byte {
	payload := make([]byte, identificationResultSize)
	copy(payload[0:15], []byte("PN-1            "))
	copy(payload[15:27], []byte("SN-1        "))
	copy(payload[27:34], []byte{0, 0, 0, 0, 0, 0, 1})
	return payload
}

func billTableFrame(entries map[int][5]byte) []byte {
	return makeBillTableResponse(entries)
}

// scriptInitialCycle queues the reset/identification/bill-table
// exchange every outer operate iteration performs.
func scriptInitialCycle(port *fakeSerialPort, entries map[int][5]byte) {
	port.queueRead(scriptedResultFrame(DefaultAddress, []byte{ackByte}))
	port.queueRead(scriptedResultFrame(DefaultAddress, identificationFrame()))
	port.queueRead(scriptedResultFrame(DefaultAddress, billTableFrame(entries)))
}

func TestControllerEscrowAcceptFlow(t *testing.T) {
	port := newFakeSerialPort()
	entries := map[int][5]byte{0: {1, 'U', 'S', 'D', 0x01}} // denomination 1*100*10^1 = 1000
	scriptInitialCycle(port, entries)

	// First poll: escrow position, bill-type index 0.
	port.queueRead(scriptedResultFrame(DefaultAddress, []byte{byte(StateEscrowPosition), 0}))
	// Stack response.
	port.queueRead(scriptedResultFrame(DefaultAddress, []byte{ackByte}))
	// Next poll: the device reports the bill stacked.
	port.queueRead(scriptedResultFrame(DefaultAddress, []byte{byte(StateBillStacked), 0}))
	// Subsequent polls: idling, forever.
	for i := 0; i < 50; i++ {
		port.queueRead(scriptedResultFrame(DefaultAddress, []byte{byte(StateIdling)}))
	}

	op := newRecordingOperator(ActionAcceptCash)
	ctl := NewController(port, DefaultAddress, op, nil)
	ctl.pollInterval = time.Millisecond
	ctl.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ctl.Stop(ctx)
	}()

	select {
	case bill := <-op.escrowed:
		if bill.Denomination != 1000 || bill.CurrencyCode != "USD" {
			t.Fatalf("unexpected escrowed bill: %+v", bill)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for escrow upcall")
	}

	select {
	case <-op.accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stack to be issued")
	}
}

func TestControllerGetCashTypesReturnsDecodedTable(t *testing.T) {
	port := newFakeSerialPort()
	entries := map[int][5]byte{0: {5, 'E', 'U', 'R', 0x01}}
	scriptInitialCycle(port, entries)
	for i := 0; i < 50; i++ {
		port.queueRead(scriptedResultFrame(DefaultAddress, []byte{byte(StateIdling)}))
	}

	ctl := NewController(port, DefaultAddress, nil, nil)
	ctl.pollInterval = time.Millisecond
	ctl.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ctl.Stop(ctx)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var types []CashType
	var err error
	for i := 0; i < 200; i++ {
		types, err = ctl.GetCashTypes(ctx)
		if err == nil && len(types) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GetCashTypes: %v", err)
	}
	if len(types) != 1 || types[0].CurrencyCode != "EUR" || types[0].Denomination != 5000 {
		t.Fatalf("unexpected cash types: %+v", types)
	}
}

func TestControllerSetEnabledCashTypesRejectsUnknownCashType(t *testing.T) {
	port := newFakeSerialPort()
	entries := map[int][5]byte{0: {5, 'E', 'U', 'R', 0x01}}
	scriptInitialCycle(port, entries)
	for i := 0; i < 50; i++ {
		port.queueRead(scriptedResultFrame(DefaultAddress, []byte{byte(StateIdling)}))
	}

	ctl := NewController(port, DefaultAddress, nil, nil)
	ctl.pollInterval = time.Millisecond
	ctl.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ctl.Stop(ctx)
	}()

	// Give the controller a moment to finish its first initialize
	// cycle before we probe with a request whose validation depends
	// on the cached bill table.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := ctl.SetEnabledCashTypes(ctx, []CashType{{CurrencyCode: "ZZZ", Denomination: 1}})
	if err == nil {
		t.Fatal("expected a semantic error for an unknown cash type")
	}
}

func TestControllerStopResolvesPendingRequests(t *testing.T) {
	port := newFakeSerialPort()
	entries := map[int][5]byte{0: {5, 'E', 'U', 'R', 0x01}}
	scriptInitialCycle(port, entries)
	// No further reads queued: once the buffered bytes are drained,
	// poll keeps failing with a transport error every cycle until
	// Stop is called.

	ctl := NewController(port, DefaultAddress, nil, nil)
	ctl.pollInterval = time.Millisecond
	ctl.Start()

	time.Sleep(50 * time.Millisecond)

	// With every poll failing, the operate goroutine never reaches the
	// queue, so this request is still pending when Stop is called.
	pending := make(chan error, 1)
	go func() {
		_, err := ctl.GetCashTypes(context.Background())
		pending <- err
	}()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ctl.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case err := <-pending:
		if kind, ok := ccneterr.KindOf(err); !ok || kind != ccneterr.KindLiveness {
			t.Fatalf("pending request resolved with %v, want a liveness error", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending request was not resolved by Stop")
	}
}
