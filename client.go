package ness

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/sync/cio"
	"github.com/cenkalti/backoff/v4"
	logp "github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "ness",
})

// SetLogger replaces the package logger, e.g. to silence it in tests.
func SetLogger(l *logp.Logger) { log = l }

var (
	// ErrClientClosed is returned by every command after Close.
	ErrClientClosed = errors.New("client closed")
	// ErrQueueFull is returned by commands under the Reject overflow
	// policy when the outbound queue is at capacity.
	ErrQueueFull = errors.New("outbound queue full")
)

// OverflowPolicy selects what happens when the outbound queue is full.
type OverflowPolicy int

const (
	// DropOldest discards the oldest queued command to admit the new one.
	DropOldest OverflowPolicy = iota
	// Reject refuses the new command with ErrQueueFull.
	Reject
)

// DecodeErrorEvent is delivered on the raw event stream when a line could
// not be decoded. It carries no state change.
type DecodeErrorEvent struct {
	Raw string
	Err error
}

func (DecodeErrorEvent) isEvent() {}

// ZoneChange is one zone transition as seen by subscribers.
type ZoneChange struct {
	Zone  int
	State ZoneState
}

// Options configures a Client. The zero value of every field has a usable
// default except Dialer, which is required.
type Options struct {
	Dialer Dialer

	// Address is the panel address stamped on outbound packets.
	Address int

	// UpdateInterval is the keep-alive and status refresh cadence.
	// Default 60s. A connection silent for UpdateInterval+30s is
	// considered stale and redialed.
	UpdateInterval time.Duration

	// LenientChecksums decodes packets with bad checksums anyway,
	// updating state and delivering an error marker alongside. The
	// default is strict: the packet only surfaces as a DecodeErrorEvent.
	LenientChecksums bool

	// QueueCapacity bounds the outbound command queue. Default 64.
	QueueCapacity int
	Overflow      OverflowPolicy

	// DrainDeadline bounds how long Close waits for queued commands to
	// flush. Default 2s.
	DrainDeadline time.Duration

	// BackoffInitial/BackoffCap shape the reconnect schedule.
	// Defaults 1s and 60s, with 20% jitter.
	BackoffInitial time.Duration
	BackoffCap     time.Duration

	// InferArmingState probes the panel for an arming snapshot on the
	// first zone change seen while arming is still unknown, instead of
	// guessing.
	InferArmingState bool

	// SubscriptionBuffer is the per-subscription buffer capacity.
	SubscriptionBuffer int

	// NotifyFirstObservation controls zone-change delivery for the
	// first transition out of unknown. On unless explicitly disabled.
	NotifyFirstObservation *bool
}

func (o *Options) fill() error {
	if o.Dialer == nil {
		return errors.New("ness: Options.Dialer is required")
	}
	if o.UpdateInterval == 0 {
		o.UpdateInterval = 60 * time.Second
	}
	if o.QueueCapacity == 0 {
		o.QueueCapacity = 64
	}
	if o.DrainDeadline == 0 {
		o.DrainDeadline = 2 * time.Second
	}
	if o.BackoffInitial == 0 {
		o.BackoffInitial = time.Second
	}
	if o.BackoffCap == 0 {
		o.BackoffCap = 60 * time.Second
	}
	if o.SubscriptionBuffer == 0 {
		o.SubscriptionBuffer = DefaultSubscriptionBuffer
	}
	return nil
}

// Client owns the connection to the panel: it keeps the transport alive,
// decodes inbound traffic into the Alarm model, fans events out to
// observers, and serializes outbound commands.
type Client struct {
	opts  Options
	alarm *Alarm

	events broker[Event]
	states broker[ArmingState]
	zones  broker[ZoneChange]

	cbMu    sync.Mutex
	onEvent map[int]func(Event)
	cbNext  int

	queueMu sync.Mutex
	queue   []string
	pending map[RequestID][]chan StatusUpdate

	wake  chan struct{}
	quiet chan struct{}

	// per-connection probe state, reset on each dial
	s20Answered bool
	s20Silent   int
	inferProbed bool

	stateMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
	closed  bool
}

// NewClient builds a Client around opts. Call Connect to start it.
func NewClient(opts Options) (*Client, error) {
	if err := opts.fill(); err != nil {
		return nil, err
	}
	alarmOpts := []AlarmOption{}
	if opts.NotifyFirstObservation != nil && !*opts.NotifyFirstObservation {
		alarmOpts = append(alarmOpts, WithoutFirstObservation())
	}
	c := &Client{
		opts:    opts,
		alarm:   NewAlarm(alarmOpts...),
		onEvent: map[int]func(Event){},
		pending: map[RequestID][]chan StatusUpdate{},
		wake:    make(chan struct{}, 1),
		quiet:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	c.alarm.OnStateChange(func(s ArmingState) {
		c.states.publish(s)
	})
	c.alarm.OnZoneChange(func(zone int, state ZoneState) {
		c.zones.publish(ZoneChange{Zone: zone, State: state})
		if c.opts.InferArmingState {
			c.maybeInferArming()
		}
	})
	return c, nil
}

// Alarm exposes the state model for direct reads.
func (c *Client) Alarm() *Alarm { return c.alarm }

// Connect starts the connection manager in the background: dial, read,
// write, keep-alive, reconnect. It is idempotent. The manager runs until
// Close or until ctx is done.
func (c *Client) Connect(ctx context.Context) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	if c.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.started = true
	go func() {
		defer close(c.done)
		c.run(runCtx)
	}()
	return nil
}

// Close shuts the client down: no new commands are accepted, the writer
// drains up to the drain deadline, then all tasks stop and the transport
// closes.
func (c *Client) Close() error {
	c.stateMu.Lock()
	if c.closed {
		c.stateMu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.stateMu.Unlock()

	if started {
		timeout := time.After(c.opts.DrainDeadline)
	drain:
		for {
			c.queueMu.Lock()
			empty := len(c.queue) == 0
			c.queueMu.Unlock()
			if empty {
				break
			}
			select {
			case <-timeout:
				break drain
			case <-c.quiet:
			}
		}
		c.cancel()
		<-c.done
	}

	c.events.close()
	c.states.close()
	c.zones.close()
	return nil
}

// run is the outer reconnect loop.
func (c *Client) run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.BackoffInitial
	bo.MaxInterval = c.opts.BackoffCap
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := c.opts.Dialer.Dial(ctx)
		if err != nil {
			wait := bo.NextBackOff()
			log.Warn("could not connect", "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		connectedGauge.Set(1)
		log.Info("connected")

		err = c.serve(ctx, conn)
		_ = conn.Close()
		connectedGauge.Set(0)
		if ctx.Err() != nil {
			return
		}
		reconnectCounter.Inc()
		log.Warn("connection lost", "err", err)
		c.alarm.MarkUnknown()
	}
}

// serve runs reader, writer and keep-alive over one live connection and
// returns when any of them fails.
func (c *Client) serve(ctx context.Context, conn Connection) error {
	c.queueMu.Lock()
	c.s20Answered = false
	c.s20Silent = 0
	c.inferProbed = false
	c.queueMu.Unlock()

	c.refresh(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx, conn) })
	g.Go(func() error { return c.writeLoop(gctx, conn) })
	g.Go(func() error { return c.keepaliveLoop(gctx) })

	// Unblock the blocking conn.Read when the group winds down.
	go func() {
		<-gctx.Done()
		_ = conn.Close()
	}()
	return g.Wait()
}

func (c *Client) readLoop(ctx context.Context, conn Connection) error {
	// A healthy panel talks at least once per refresh cycle; a read that
	// outlives the cycle plus slack means the link is dead even if the
	// socket stays up.
	scanner := bufio.NewScanner(cio.TimeoutReader(conn, c.opts.UpdateInterval+30*time.Second))
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		c.handleLine(line)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("connection closed by peer")
}

func (c *Client) handleLine(line string) {
	log.Debug("decoding", "line", line)
	pkt, err := DecodePacket(line)
	if err != nil {
		decodeErrorCounter.WithLabelValues(decodeErrorKind(err)).Inc()
		log.Warn("could not decode packet", "line", line, "err", err)
		c.dispatchRaw(DecodeErrorEvent{Raw: line, Err: err})
		var cerr *ChecksumError
		if !errors.As(err, &cerr) || !c.opts.LenientChecksums {
			return
		}
		// Lenient mode: the packet decoded fine apart from its
		// checksum, so fold it anyway.
	}
	packetsCounter.Inc()
	event, err := DecodeEvent(pkt)
	if err != nil {
		decodeErrorCounter.WithLabelValues(decodeErrorKind(err)).Inc()
		log.Warn("could not decode event", "line", line, "err", err)
		c.dispatchRaw(DecodeErrorEvent{Raw: line, Err: err})
		return
	}
	c.dispatch(event)
}

// dispatchRaw delivers carriers that never touch the state model.
func (c *Client) dispatchRaw(e Event) {
	c.events.publish(e)
	c.invokeCallbacks(e)
}

func (c *Client) dispatch(e Event) {
	eventsCounter.Inc()
	if update, ok := e.(StatusUpdate); ok {
		c.resolvePending(update)
		if zu, ok := update.(ZoneUpdate); ok && zu.ID == ReqZone17InputUnsealed {
			c.queueMu.Lock()
			c.s20Answered = true
			c.s20Silent = 0
			c.queueMu.Unlock()
		}
	}
	c.invokeCallbacks(e)
	c.alarm.HandleEvent(e)
	c.events.publish(e)
}

func (c *Client) invokeCallbacks(e Event) {
	c.cbMu.Lock()
	fns := make([]func(Event), 0, len(c.onEvent))
	for _, fn := range c.onEvent {
		fns = append(fns, fn)
	}
	c.cbMu.Unlock()
	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("event handler panicked", "panic", r)
				}
			}()
			fn(e)
		}()
	}
}

func (c *Client) resolvePending(update StatusUpdate) {
	c.queueMu.Lock()
	waiters := c.pending[update.Request()]
	delete(c.pending, update.Request())
	c.queueMu.Unlock()
	for _, ch := range waiters {
		select {
		case ch <- update:
		default:
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, conn Connection) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
		}
		for {
			c.queueMu.Lock()
			if len(c.queue) == 0 {
				c.queueMu.Unlock()
				break
			}
			line := c.queue[0]
			c.queueMu.Unlock()

			log.Debug("sending", "line", line)
			if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
				// Leave the command queued for the next connection.
				return fmt.Errorf("write failed: %w", err)
			}
			c.queueMu.Lock()
			c.queue = c.queue[1:]
			c.queueMu.Unlock()
		}
		select {
		case c.quiet <- struct{}{}:
		default:
		}
	}
}

func (c *Client) keepaliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.UpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		c.refresh(false)
	}
}

// refresh enqueues the status suite: zones, arming, miscellaneous alarms,
// and on connect the panel version. The zones-17-32 probe stops after
// three silent refresh cycles on panels that never answer it.
func (c *Client) refresh(first bool) {
	c.enqueue(ReqZoneInputUnsealed.Command())
	if c.probeS20() {
		c.enqueue(ReqZone17InputUnsealed.Command())
	}
	c.enqueue(ReqArming.Command())
	c.enqueue(ReqMiscellaneousAlarms.Command())
	if first {
		if _, known := c.alarm.Version(); !known {
			c.enqueue(ReqPanelVersion.Command())
		}
	}
}

func (c *Client) probeS20() bool {
	if c.alarm.ZoneCount() > 16 {
		return true
	}
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if c.s20Answered {
		return true
	}
	if c.s20Silent >= 3 {
		return false
	}
	c.s20Silent++
	return true
}

func (c *Client) maybeInferArming() {
	state, _ := c.alarm.ArmingState()
	if state != StateUnknown {
		return
	}
	c.queueMu.Lock()
	probed := c.inferProbed
	c.inferProbed = true
	c.queueMu.Unlock()
	if probed {
		return
	}
	log.Debug("zone activity with unknown arming state, requesting snapshot")
	c.enqueue(ReqArming.Command())
}

// enqueue appends an already-validated keystring to the outbound queue.
func (c *Client) enqueue(cmd string) error {
	c.queueMu.Lock()
	if len(c.queue) >= c.opts.QueueCapacity {
		if c.opts.Overflow == Reject {
			c.queueMu.Unlock()
			return ErrQueueFull
		}
		c.queue = c.queue[1:]
	}
	pkt := Packet{
		Address: c.opts.Address,
		Seq:     0,
		Command: CmdUserInterface,
		Data:    cmd,
	}
	c.queue = append(c.queue, pkt.Encode())
	c.queueMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// SendCommand enqueues a raw keypad keystring. The keystring must only
// contain keys present on the panel keypad; anything else fails here
// rather than confusing the panel.
func (c *Client) SendCommand(cmd string) error {
	c.stateMu.Lock()
	closed := c.closed
	c.stateMu.Unlock()
	if closed {
		return ErrClientClosed
	}
	if err := ValidateKeystring(cmd); err != nil {
		return err
	}
	return c.enqueue(cmd)
}

// ArmAway arms in away mode. The code is optional on panels configured
// for shortcut arming.
func (c *Client) ArmAway(code string) error {
	return c.SendCommand(fmt.Sprintf("A%sE", code))
}

// ArmHome arms in home (monitor) mode.
func (c *Client) ArmHome(code string) error {
	return c.SendCommand(fmt.Sprintf("H%sE", code))
}

// Disarm disarms the panel.
func (c *Client) Disarm(code string) error {
	return c.SendCommand(fmt.Sprintf("%sE", code))
}

// Panic raises a panic alarm.
func (c *Client) Panic(code string) error {
	return c.SendCommand(fmt.Sprintf("*%s#", code))
}

// Aux switches auxiliary output id (1-4) on or off.
func (c *Client) Aux(outputID int, state bool) error {
	if outputID < 1 || outputID > 4 {
		return fmt.Errorf("auxiliary output id out of range: %d", outputID)
	}
	suffix := "#"
	if state {
		suffix = "*"
	}
	return c.SendCommand(fmt.Sprintf("%d%d%s", outputID, outputID, suffix))
}

// UpdateStatus enqueues the zone and arming probes (S00, S20, S14).
func (c *Client) UpdateStatus() error {
	c.stateMu.Lock()
	closed := c.closed
	c.stateMu.Unlock()
	if closed {
		return ErrClientClosed
	}
	if err := c.enqueue(ReqZoneInputUnsealed.Command()); err != nil {
		return err
	}
	if c.probeS20() {
		if err := c.enqueue(ReqZone17InputUnsealed.Command()); err != nil {
			return err
		}
	}
	return c.enqueue(ReqArming.Command())
}

// SendStatusRequest enqueues one Sxx probe. The reply arrives on the
// event stream; use RequestStatus to wait for it.
func (c *Client) SendStatusRequest(id RequestID) error {
	c.stateMu.Lock()
	closed := c.closed
	c.stateMu.Unlock()
	if closed {
		return ErrClientClosed
	}
	if !id.valid() {
		return fmt.Errorf("invalid status request id: 0x%02x", byte(id))
	}
	return c.enqueue(id.Command())
}

// RequestStatus sends one Sxx probe and waits for the matching reply.
func (c *Client) RequestStatus(ctx context.Context, id RequestID) (StatusUpdate, error) {
	if !id.valid() {
		return nil, fmt.Errorf("invalid status request id: 0x%02x", byte(id))
	}
	ch := make(chan StatusUpdate, 1)
	c.queueMu.Lock()
	c.pending[id] = append(c.pending[id], ch)
	c.queueMu.Unlock()
	if err := c.SendStatusRequest(id); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case update := <-ch:
		return update, nil
	}
}

// PanelInfo returns the panel model and firmware version, probing the
// panel if it has not identified itself yet.
func (c *Client) PanelInfo(ctx context.Context) (PanelVersionUpdate, error) {
	if v, ok := c.alarm.Version(); ok {
		return v, nil
	}
	update, err := c.RequestStatus(ctx, ReqPanelVersion)
	if err != nil {
		return PanelVersionUpdate{}, err
	}
	v, ok := update.(PanelVersionUpdate)
	if !ok {
		return PanelVersionUpdate{}, fmt.Errorf("unexpected reply to version request: %v", update)
	}
	return v, nil
}

// Events returns a subscription to every decoded message, including
// decode error carriers.
func (c *Client) Events() *Subscription[Event] {
	return c.events.subscribe(c.opts.SubscriptionBuffer)
}

// StateChanges returns a subscription to arming transitions.
func (c *Client) StateChanges() *Subscription[ArmingState] {
	return c.states.subscribe(c.opts.SubscriptionBuffer)
}

// ZoneChanges returns a subscription to zone transitions.
func (c *Client) ZoneChanges() *Subscription[ZoneChange] {
	return c.zones.subscribe(c.opts.SubscriptionBuffer)
}

// OnEvent registers a synchronous handler for every decoded message and
// returns its disposer. Handler panics are contained.
func (c *Client) OnEvent(fn func(Event)) func() {
	c.cbMu.Lock()
	id := c.cbNext
	c.cbNext++
	c.onEvent[id] = fn
	c.cbMu.Unlock()
	return func() {
		c.cbMu.Lock()
		delete(c.onEvent, id)
		c.cbMu.Unlock()
	}
}

// OnStateChange registers a handler for arming transitions.
func (c *Client) OnStateChange(fn func(ArmingState)) {
	c.alarm.OnStateChange(fn)
}

// OnZoneChange registers a handler for zone transitions.
func (c *Client) OnZoneChange(fn func(zone int, state ZoneState)) {
	c.alarm.OnZoneChange(fn)
}
