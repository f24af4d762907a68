package ness

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory panel endpoint: the test feeds inbound lines
// through a pipe and observes outbound frames on a channel.
type fakeConn struct {
	pr     *io.PipeReader
	pw     *io.PipeWriter
	writes chan string

	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	pr, pw := io.Pipe()
	return &fakeConn{pr: pr, pw: pw, writes: make(chan string, 64)}
}

func (f *fakeConn) Read(p []byte) (int, error) { return f.pr.Read(p) }

func (f *fakeConn) Write(p []byte) (int, error) {
	f.writes <- strings.TrimSpace(string(p))
	return len(p), nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() {
		_ = f.pr.Close()
		_ = f.pw.Close()
	})
	return nil
}

func (f *fakeConn) feed(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(f.pw, line+"\r\n")
	require.NoError(t, err)
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context) (Connection, error) {
	d.mu.Lock()
	var conn *fakeConn
	if len(d.conns) > 0 {
		conn = d.conns[0]
		d.conns = d.conns[1:]
	}
	d.mu.Unlock()
	if conn == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return conn, nil
}

func newTestClient(t *testing.T, conn *fakeConn, mod func(*Options)) *Client {
	t.Helper()
	opts := Options{
		Dialer:         &fakeDialer{conns: []*fakeConn{conn}},
		UpdateInterval: time.Hour,
	}
	if mod != nil {
		mod(&opts)
	}
	cli, err := NewClient(opts)
	require.NoError(t, err)
	require.NoError(t, cli.Connect(context.Background()))
	t.Cleanup(func() { _ = cli.Close() })
	return cli
}

func uiFrame(data string) string {
	return Packet{Address: 0, Command: CmdUserInterface, Data: data}.Encode()
}

func eventLine(typ EventType, id, area int) string {
	return Packet{
		Address: NoAddress,
		Command: CmdSystemStatus,
		Data:    fmt.Sprintf("%02x%02x%02x", byte(typ), id, area),
	}.Encode()
}

func statusLine(data string) string {
	return Packet{
		Address:             NoAddress,
		Command:             CmdUserInterface,
		Data:                data,
		IsUserInterfaceResp: true,
	}.Encode()
}

func expectWrite(t *testing.T, conn *fakeConn, want string) {
	t.Helper()
	select {
	case got := <-conn.writes:
		require.Equal(t, want, got)
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for outbound frame %q", want)
	}
}

// drainConnectSuite consumes the status refresh sent on every connect.
func drainConnectSuite(t *testing.T, conn *fakeConn) {
	t.Helper()
	expectWrite(t, conn, uiFrame("S00"))
	expectWrite(t, conn, uiFrame("S20"))
	expectWrite(t, conn, uiFrame("S14"))
	expectWrite(t, conn, uiFrame("S13"))
	expectWrite(t, conn, uiFrame("S17"))
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestConnectSendsStatusSuite(t *testing.T) {
	conn := newFakeConn()
	newTestClient(t, conn, nil)
	drainConnectSuite(t, conn)
}

func TestCommands(t *testing.T) {
	conn := newFakeConn()
	cli := newTestClient(t, conn, nil)
	drainConnectSuite(t, conn)

	require.NoError(t, cli.ArmAway("123"))
	expectWrite(t, conn, uiFrame("A123E"))

	require.NoError(t, cli.ArmHome("123"))
	expectWrite(t, conn, uiFrame("H123E"))

	require.NoError(t, cli.Disarm("123"))
	expectWrite(t, conn, uiFrame("123E"))

	require.NoError(t, cli.Panic("123"))
	expectWrite(t, conn, uiFrame("*123#"))

	require.NoError(t, cli.Aux(2, false))
	expectWrite(t, conn, uiFrame("22#"))

	require.Error(t, cli.SendCommand("Z1"))
	require.Error(t, cli.Aux(5, true))
}

func TestZoneChangeSubscription(t *testing.T) {
	conn := newFakeConn()
	cli := newTestClient(t, conn, nil)
	sub := cli.ZoneChanges()
	defer sub.Cancel()

	conn.feed(t, eventLine(EventUnsealed, 3, 0))

	item, err := sub.Next(testContext(t))
	require.NoError(t, err)
	require.Equal(t, ZoneChange{Zone: 3, State: ZoneUnsealed}, item.Value)
	require.Equal(t, ZoneUnsealed, cli.Alarm().Zone(3))
}

func TestStateChangeSubscription(t *testing.T) {
	conn := newFakeConn()
	cli := newTestClient(t, conn, nil)
	sub := cli.StateChanges()
	defer sub.Cancel()

	conn.feed(t, statusLine("140500")) // armed and fully armed

	item, err := sub.Next(testContext(t))
	require.NoError(t, err)
	require.Equal(t, StateArmed, item.Value)
}

func TestDecodeErrorEvent(t *testing.T) {
	conn := newFakeConn()
	cli := newTestClient(t, conn, nil)
	sub := cli.Events()
	defer sub.Cancel()

	conn.feed(t, "garbage!")

	item, err := sub.Next(testContext(t))
	require.NoError(t, err)
	derr, ok := item.Value.(DecodeErrorEvent)
	require.True(t, ok, "expected DecodeErrorEvent, got %T", item.Value)
	require.Equal(t, "garbage!", derr.Raw)
	require.Error(t, derr.Err)
}

func corruptChecksum(line string) string {
	bad := "00"
	if strings.HasSuffix(line, "00") {
		bad = "FF"
	}
	return line[:len(line)-2] + bad
}

func TestStrictChecksumDropsFrame(t *testing.T) {
	conn := newFakeConn()
	cli := newTestClient(t, conn, nil)
	sub := cli.Events()
	defer sub.Cancel()

	conn.feed(t, corruptChecksum(statusLine("140500")))

	item, err := sub.Next(testContext(t))
	require.NoError(t, err)
	require.IsType(t, DecodeErrorEvent{}, item.Value)

	state, _ := cli.Alarm().ArmingState()
	require.Equal(t, StateUnknown, state)
}

func TestLenientChecksumFoldsFrame(t *testing.T) {
	conn := newFakeConn()
	cli := newTestClient(t, conn, func(o *Options) {
		o.LenientChecksums = true
	})
	sub := cli.Events()
	defer sub.Cancel()

	conn.feed(t, corruptChecksum(statusLine("140500")))

	ctx := testContext(t)
	item, err := sub.Next(ctx)
	require.NoError(t, err)
	require.IsType(t, DecodeErrorEvent{}, item.Value)

	item, err = sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, ArmingUpdate{Status: Area1Armed | Area1FullyArmed, Address: NoAddress}, item.Value)

	state, _ := cli.Alarm().ArmingState()
	require.Equal(t, StateArmed, state)
}

func TestRequestStatus(t *testing.T) {
	conn := newFakeConn()
	cli := newTestClient(t, conn, nil)
	drainConnectSuite(t, conn)

	ctx := testContext(t)
	type result struct {
		update StatusUpdate
		err    error
	}
	done := make(chan result, 1)
	go func() {
		update, err := cli.RequestStatus(ctx, ReqArming)
		done <- result{update, err}
	}()

	expectWrite(t, conn, uiFrame("S14"))
	conn.feed(t, statusLine("140100"))

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, ArmingUpdate{Status: Area1Armed, Address: NoAddress}, res.update)

	_, err := cli.RequestStatus(ctx, RequestID(0x99))
	require.Error(t, err)
}

func TestPanelInfo(t *testing.T) {
	conn := newFakeConn()
	cli := newTestClient(t, conn, nil)
	drainConnectSuite(t, conn)

	ctx := testContext(t)
	type result struct {
		info PanelVersionUpdate
		err  error
	}
	done := make(chan result, 1)
	go func() {
		info, err := cli.PanelInfo(ctx)
		done <- result{info, err}
	}()

	expectWrite(t, conn, uiFrame("S17"))
	conn.feed(t, statusLine("170087"))

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, ModelD8X, res.info.Model)
	require.Equal(t, "8.7", res.info.Version())

	// A second call answers from the model without touching the panel.
	info, err := cli.PanelInfo(ctx)
	require.NoError(t, err)
	require.Equal(t, res.info, info)
}

func TestOnEventDisposer(t *testing.T) {
	conn := newFakeConn()
	cli := newTestClient(t, conn, nil)

	got := make(chan Event, 4)
	dispose := cli.OnEvent(func(e Event) { got <- e })

	conn.feed(t, eventLine(EventUnsealed, 1, 0))
	select {
	case e := <-got:
		require.IsType(t, SystemStatusEvent{}, e)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event callback")
	}
	dispose()
}

func TestCloseDrainsQueue(t *testing.T) {
	conn := newFakeConn()
	cli := newTestClient(t, conn, nil)
	drainConnectSuite(t, conn)

	require.NoError(t, cli.ArmAway("1"))
	require.NoError(t, cli.Close())
	expectWrite(t, conn, uiFrame("A1E"))
}

func TestCloseDeadlineWithoutWriter(t *testing.T) {
	// No connection ever comes up, so the queue cannot drain; Close gives
	// up at the drain deadline instead of hanging.
	cli, err := NewClient(Options{
		Dialer:        &fakeDialer{},
		DrainDeadline: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, cli.Connect(context.Background()))
	require.NoError(t, cli.SendCommand("AE"))

	start := time.Now()
	require.NoError(t, cli.Close())
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestClosedClientRejectsCommands(t *testing.T) {
	conn := newFakeConn()
	cli := newTestClient(t, conn, nil)
	require.NoError(t, cli.Close())

	require.ErrorIs(t, cli.SendCommand("AE"), ErrClientClosed)
	require.ErrorIs(t, cli.UpdateStatus(), ErrClientClosed)
	require.ErrorIs(t, cli.SendStatusRequest(ReqArming), ErrClientClosed)
	require.ErrorIs(t, cli.Connect(context.Background()), ErrClientClosed)
}

func TestRejectOverflow(t *testing.T) {
	cli, err := NewClient(Options{
		Dialer:        &fakeDialer{},
		QueueCapacity: 1,
		Overflow:      Reject,
	})
	require.NoError(t, err)

	require.NoError(t, cli.SendCommand("AE"))
	require.ErrorIs(t, cli.SendCommand("HE"), ErrQueueFull)
}

func TestNewClientRequiresDialer(t *testing.T) {
	_, err := NewClient(Options{})
	require.Error(t, err)
}
