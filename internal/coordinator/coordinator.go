// Package coordinator hosts the single background uploader. One actor
// goroutine owns the connected ports and the drain phase; clients reach it only
// through messages.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"relay/internal/logging"
	"relay/internal/metrics"
	"relay/internal/queue"
	"relay/internal/replayapi"
)

// ErrStopped reports a message sent to a coordinator that is not running.
var ErrStopped = errors.New("coordinator stopped")

// Store is the slice of the segment store a drain needs.
type Store interface {
	ListPending(ctx context.Context) ([]queue.PendingRecord, error)
	GetSegment(ctx context.Context, sessionID, segmentID string) ([]byte, error)
	CompletePending(ctx context.Context, segmentID string, generation int64) (bool, error)
	HasPending(ctx context.Context, segmentID string) (bool, error)
	MarkUploaded(ctx context.Context, segmentID, remoteID, remoteURL string) error
	MarkFailed(ctx context.Context, segmentID, reason string) error
}

// RemoteAPI is the replay upload API.
type RemoteAPI interface {
	PresignedURL(ctx context.Context, sessionID string, req replayapi.PresignRequest) (replayapi.PresignResponse, error)
	PutBlob(ctx context.Context, url, contentType string, blob []byte) error
	UploadComplete(ctx context.Context, sessionID, segmentID string) error
	UploadLogs(ctx context.Context, sessionID, segmentID, videoURL string, logs []json.RawMessage) error
}

// Options tune the actor.
type Options struct {
	// PollInterval triggers a drain periodically; zero disables polling.
	PollInterval   time.Duration
	MailboxSize    int
	PortBufferSize int
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

type envelopeKind int

const (
	kindMessage envelopeKind = iota
	kindConnect
	kindDisconnect
	kindStatus
)

type envelope struct {
	kind  envelopeKind
	port  *Port
	msg   Message
	reply chan Status
}

// workerMsg carries broadcasts and the final result from the drain worker on
// one channel so they reach ports in the order they happened.
type workerMsg struct {
	broadcast *Message
	done      *DrainResult
}

// Coordinator is the upload actor.
type Coordinator struct {
	store   Store
	api     RemoteAPI
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	mailbox chan envelope
	worker  chan workerMsg
	stopped chan struct{}
	running atomic.Bool
	nextID  atomic.Int64
	wg      sync.WaitGroup

	// Owned by the actor goroutine.
	ports  map[int64]*Port
	phase  Phase
	rerun  bool
	passes int
	last   *DrainResult
}

// New constructs a coordinator. Call Run to start it.
func New(store Store, api RemoteAPI, opts Options) *Coordinator {
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 64
	}
	if opts.PortBufferSize <= 0 {
		opts.PortBufferSize = 32
	}
	return &Coordinator{
		store:   store,
		api:     api,
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "coordinator"),
		metrics: opts.Metrics,
		mailbox: make(chan envelope, opts.MailboxSize),
		worker:  make(chan workerMsg, 16),
		stopped: make(chan struct{}),
		ports:   make(map[int64]*Port),
		phase:   PhaseIdle,
	}
}

// Run processes messages until ctx ends. Envelopes queued before Run are
// handled first, then a startup drain begins.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("coordinator already running")
	}
	defer close(c.stopped)

	var tick <-chan time.Time
	if c.opts.PollInterval > 0 {
		ticker := time.NewTicker(c.opts.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for queued := len(c.mailbox); queued > 0; queued-- {
		c.handle(ctx, <-c.mailbox)
	}
	c.trigger(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case env := <-c.mailbox:
			c.handle(ctx, env)
		case wm := <-c.worker:
			c.handleWorker(ctx, wm)
		case <-tick:
			c.trigger(ctx, "poll")
		}
	}
}

// Done is closed when Run returns.
func (c *Coordinator) Done() <-chan struct{} { return c.stopped }

// Connect opens a port. Messages broadcast after the actor registers it are
// delivered on Port.Messages.
func (c *Coordinator) Connect(ctx context.Context) (*Port, error) {
	port := &Port{
		id:    c.nextID.Add(1),
		coord: c,
		out:   make(chan Message, c.opts.PortBufferSize),
	}
	if err := c.post(ctx, envelope{kind: kindConnect, port: port}); err != nil {
		return nil, err
	}
	return port, nil
}

// Trigger requests a drain without a port.
func (c *Coordinator) Trigger(ctx context.Context) error {
	return c.post(ctx, envelope{kind: kindMessage, msg: Message{Type: TypeProcessUploads}})
}

// Status asks the actor for a snapshot.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := c.post(ctx, envelope{kind: kindStatus, reply: reply}); err != nil {
		return Status{}, err
	}
	select {
	case status := <-reply:
		return status, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	case <-c.stopped:
		return Status{}, ErrStopped
	}
}

func (c *Coordinator) post(ctx context.Context, env envelope) error {
	select {
	case <-c.stopped:
		return ErrStopped
	default:
	}
	select {
	case c.mailbox <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.stopped:
		return ErrStopped
	}
}

func (c *Coordinator) handle(ctx context.Context, env envelope) {
	switch env.kind {
	case kindConnect:
		c.ports[env.port.id] = env.port
		c.metrics.SetConnectedPorts(len(c.ports))
		c.logger.Debug("port connected", logging.Int64("port", env.port.id), logging.Int("ports", len(c.ports)))
	case kindDisconnect:
		if port, ok := c.ports[env.port.id]; ok {
			delete(c.ports, port.id)
			close(port.out)
			c.metrics.SetConnectedPorts(len(c.ports))
			c.logger.Debug("port disconnected", logging.Int64("port", port.id), logging.Int("ports", len(c.ports)))
		}
	case kindStatus:
		env.reply <- c.status()
	case kindMessage:
		c.handleMessage(ctx, env.port, env.msg)
	}
}

func (c *Coordinator) handleMessage(ctx context.Context, from *Port, msg Message) {
	switch msg.Type {
	case TypeProcessUploads:
		c.trigger(ctx, "request")
	case TypeEnqueueSegment:
		var payload EnqueueSegmentPayload
		if len(msg.Payload) > 0 && msg.Decode(&payload) == nil && payload.SegmentID != "" {
			c.logger.Debug("segment enqueued",
				logging.String(logging.FieldSessionID, payload.SessionID),
				logging.String(logging.FieldSegmentID, payload.SegmentID),
			)
		}
		c.trigger(ctx, "enqueue")
	case TypePing:
		c.reply(from, Message{Type: TypePong})
	case TypeStatus:
		c.reply(from, mustMessage(TypeStatus, c.status()))
	default:
		c.logger.Debug("unknown message ignored", logging.String("type", msg.Type))
		c.reply(from, mustMessage(TypeError, ErrorPayload{Reason: "unknown message type " + msg.Type}))
	}
}

func (c *Coordinator) status() Status {
	status := Status{Phase: c.phase, Ports: len(c.ports), Rerun: c.rerun, Passes: c.passes}
	if c.last != nil {
		last := *c.last
		status.Last = &last
	}
	return status
}

// trigger starts a drain when idle. A trigger during a pass schedules exactly
// one more pass so records enqueued after the listing are not stranded.
func (c *Coordinator) trigger(ctx context.Context, reason string) {
	if c.phase == PhaseDraining {
		if !c.rerun {
			c.logger.Debug("drain already running; rerun scheduled", logging.String("reason", reason))
		}
		c.rerun = true
		c.metrics.IncCoalesced()
		return
	}
	c.startDrain(ctx, reason)
}

func (c *Coordinator) startDrain(ctx context.Context, reason string) {
	c.phase = PhaseDraining
	c.passes++
	pass := c.passes
	c.metrics.IncDrains()
	c.broadcast(mustMessage(TypeDrainStarted, DrainStartedPayload{Pass: pass, Reason: reason}))
	c.logger.Debug("drain started", logging.Int("pass", pass), logging.String("reason", reason))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runDrain(ctx, pass)
	}()
}

func (c *Coordinator) handleWorker(ctx context.Context, wm workerMsg) {
	if wm.broadcast != nil {
		c.broadcast(*wm.broadcast)
		return
	}
	if wm.done == nil {
		return
	}
	result := *wm.done
	c.phase = PhaseIdle
	c.last = &result
	c.metrics.ObserveDrain(float64(result.DurationMs) / 1000)
	c.broadcast(mustMessage(TypeDrainFinished, result))

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "drain_finished"),
		logging.Int("pass", result.Pass),
		logging.Int("listed", result.Listed),
		logging.Int("uploaded", result.Uploaded),
		logging.Int("failed", result.Failed),
		logging.Int("dropped", result.Dropped),
		logging.Int64("duration_ms", result.DurationMs),
	}
	switch {
	case result.Error != "":
		logging.WarnWithContext(c.logger, "drain aborted", "drain_aborted", append(attrs,
			logging.String("reason", result.Error),
			logging.String(logging.FieldErrorHint, "check the queue database and daemon logs"),
			logging.String(logging.FieldImpact, "queued segments wait for the next pass"),
		)...)
	case result.Listed > 0:
		c.logger.Info("drain finished", logging.Args(attrs...)...)
	default:
		c.logger.Debug("drain finished", logging.Args(attrs...)...)
	}

	if c.rerun && ctx.Err() == nil {
		c.rerun = false
		c.startDrain(ctx, "rerun")
	}
}

// broadcast delivers msg to every port. A port whose buffer is full misses the
// message rather than stalling the actor.
func (c *Coordinator) broadcast(msg Message) {
	for _, port := range c.ports {
		c.deliver(port, msg)
	}
}

func (c *Coordinator) reply(to *Port, msg Message) {
	if to == nil {
		return
	}
	if _, ok := c.ports[to.id]; !ok {
		return
	}
	c.deliver(to, msg)
}

func (c *Coordinator) deliver(port *Port, msg Message) {
	select {
	case port.out <- msg:
	default:
		c.logger.Debug("port buffer full; message dropped",
			logging.Int64("port", port.id),
			logging.String("type", msg.Type),
		)
	}
}

// shutdown waits for an in-flight pass, then closes every port.
func (c *Coordinator) shutdown() {
	for c.phase == PhaseDraining {
		wm := <-c.worker
		if wm.done != nil {
			c.phase = PhaseIdle
			c.last = wm.done
			continue
		}
		if wm.broadcast != nil {
			c.broadcast(*wm.broadcast)
		}
	}
	c.wg.Wait()
	for id, port := range c.ports {
		delete(c.ports, id)
		close(port.out)
	}
	c.metrics.SetConnectedPorts(0)
	c.logger.Debug("coordinator stopped")
}

// Port is one client connection to the coordinator.
type Port struct {
	id     int64
	coord  *Coordinator
	out    chan Message
	closed atomic.Bool
}

// ID identifies the port in logs.
func (p *Port) ID() int64 { return p.id }

// Messages yields broadcasts and replies. It is closed on disconnect or when
// the coordinator stops.
func (p *Port) Messages() <-chan Message { return p.out }

// Send posts a message to the coordinator.
func (p *Port) Send(ctx context.Context, msg Message) error {
	if p.closed.Load() {
		return errors.New("port closed")
	}
	return p.coord.post(ctx, envelope{kind: kindMessage, port: p, msg: msg})
}

// Close disconnects the port.
func (p *Port) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := p.coord.post(context.Background(), envelope{kind: kindDisconnect, port: p})
	if errors.Is(err, ErrStopped) {
		return nil
	}
	return err
}
