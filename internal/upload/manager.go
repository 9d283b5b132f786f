// Package upload runs whole-folder build uploads through a cancellable state
// machine: credentials, object storage transfer, then finalization.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"relay/internal/buildapi"
	"relay/internal/fileutil"
	"relay/internal/logging"
	"relay/internal/metrics"
	"relay/internal/objectstore"
	"relay/internal/services"
)

// BuildAPI is the remote build registry.
type BuildAPI interface {
	RequestCredentials(ctx context.Context, name string) (buildapi.Credentials, error)
	Complete(ctx context.Context, buildID string, req buildapi.CompleteRequest) error
}

// Transferer moves files into object storage.
type Transferer interface {
	Transfer(ctx context.Context, creds buildapi.Credentials, files []fileutil.FileEntry, onChunk func(objectstore.Chunk)) error
}

// Params describe one build upload.
type Params struct {
	ArtifactName   string
	Dir            string
	ExecutablePath string
	OSType         string
	InstanceType   string
	MaxCapacity    int
}

func (p Params) validate() error {
	if strings.TrimSpace(p.ArtifactName) == "" {
		return services.Wrap(services.ErrValidation, "upload", "start", "artifact name required", nil)
	}
	if strings.TrimSpace(p.Dir) == "" {
		return services.Wrap(services.ErrValidation, "upload", "start", "build directory required", nil)
	}
	if p.MaxCapacity < 0 {
		return services.Wrap(services.ErrValidation, "upload", "start", "max capacity must not be negative", nil)
	}
	return nil
}

// Item is a snapshot of one upload.
type Item struct {
	ID           string
	ArtifactName string
	Params       Params
	Files        []fileutil.FileEntry
	TotalBytes   int64
	StartedAt    time.Time
	UpdatedAt    time.Time
	State        State
	// Cancelled is set once Cancel succeeded; State then stays frozen.
	Cancelled bool
	// RetryOf names the failed upload this one retries.
	RetryOf string
}

// Active reports whether the upload may still change state.
func (i Item) Active() bool {
	return !i.Cancelled && !i.State.Phase().Terminal()
}

type record struct {
	item      Item
	cancel    context.CancelFunc
	cancelled bool
}

// Options tune a Manager.
type Options struct {
	ProgressInterval time.Duration
	SpeedWindow      time.Duration
	Logger           *slog.Logger
	Metrics          *metrics.Metrics
	// SubscriberBuffer sizes each Subscribe channel.
	SubscriberBuffer int
}

// Manager owns the upload collection.
type Manager struct {
	api      BuildAPI
	transfer Transferer
	opts     Options
	logger   *slog.Logger
	now      func() time.Time

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	events *eventBus

	mu    sync.Mutex
	items map[string]*record
}

// NewManager constructs a Manager.
func NewManager(api BuildAPI, transfer Transferer, opts Options) *Manager {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 250 * time.Millisecond
	}
	if opts.SpeedWindow <= 0 {
		opts.SpeedWindow = 5 * time.Second
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 256
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		api:      api,
		transfer: transfer,
		opts:     opts,
		logger:   logging.NewComponentLogger(opts.Logger, "upload"),
		now:      time.Now,
		ctx:      ctx,
		stop:     stop,
		events:   newEventBus(0),
		items:    make(map[string]*record),
	}
}

// Start validates params, records a new upload in Idle and advances it in the
// background. ctx bounds only the synchronous part; use Cancel to stop the
// upload itself.
func (m *Manager) Start(ctx context.Context, params Params) (string, error) {
	return m.start(ctx, params, "")
}

func (m *Manager) start(ctx context.Context, params Params, retryOf string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := params.validate(); err != nil {
		return "", err
	}
	if err := m.ctx.Err(); err != nil {
		return "", fmt.Errorf("upload manager closed: %w", err)
	}

	id := uuid.NewString()
	now := m.now()
	runCtx, cancel := context.WithCancel(services.WithUploadID(m.ctx, id))
	rec := &record{
		item: Item{
			ID:           id,
			ArtifactName: strings.TrimSpace(params.ArtifactName),
			Params:       params,
			StartedAt:    now,
			UpdatedAt:    now,
			State:        Idle{},
			RetryOf:      retryOf,
		},
		cancel: cancel,
	}

	m.mu.Lock()
	m.items[id] = rec
	m.events.publish(Event{Type: EventState, Item: rec.item})
	m.mu.Unlock()

	m.logger.Info("build upload started",
		logging.String(logging.FieldUploadID, id),
		logging.String(logging.FieldEventType, "build_upload_started"),
		logging.String("artifact", rec.item.ArtifactName),
		logging.String("retry_of", retryOf),
	)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.run(runCtx, id, params)
	}()
	return id, nil
}

// Cancel stops a running upload. The item keeps the state it had when
// cancelled and receives no further updates.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.items[id]
	if !ok {
		return ErrUnknownUpload
	}
	if rec.cancelled || rec.item.State.Phase().Terminal() {
		return ErrNotCancellable
	}
	rec.cancelled = true
	rec.item.Cancelled = true
	rec.item.UpdatedAt = m.now()
	rec.cancel()
	m.events.publish(Event{Type: EventCancelled, Item: rec.item})
	m.opts.Metrics.IncBuild("cancelled")
	m.logger.Info("build upload cancelled",
		logging.String(logging.FieldUploadID, id),
		logging.String(logging.FieldEventType, "build_upload_cancelled"),
		logging.String("phase", string(rec.item.State.Phase())),
	)
	return nil
}

// Retry starts a fresh upload with the params of a transiently failed one.
// The original item is left untouched.
func (m *Manager) Retry(id string) (string, error) {
	m.mu.Lock()
	rec, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return "", ErrUnknownUpload
	}
	failed, isFailed := rec.item.State.(Failed)
	params := rec.item.Params
	cancelled := rec.cancelled
	m.mu.Unlock()

	if !isFailed || cancelled || !failed.Err.Retriable {
		return "", ErrNotRetriable
	}
	return m.start(context.Background(), params, id)
}

// Remove drops a finished or cancelled upload from the collection.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.items[id]
	if !ok {
		return ErrUnknownUpload
	}
	if rec.item.Active() {
		return ErrStillActive
	}
	delete(m.items, id)
	m.events.publish(Event{Type: EventRemoved, Item: rec.item})
	return nil
}

// Get returns a snapshot of one upload.
func (m *Manager) Get(id string) (Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.items[id]
	if !ok {
		return Item{}, ErrUnknownUpload
	}
	return rec.item, nil
}

// List returns snapshots ordered by start time.
func (m *Manager) List() []Item {
	m.mu.Lock()
	out := make([]Item, 0, len(m.items))
	for _, rec := range m.items {
		out = append(out, rec.item)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Subscribe streams events until the returned function is called or the
// manager closes. Events are dropped for subscribers that fall behind.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.events.subscribe(m.opts.SubscriberBuffer)
}

// EventsSince returns buffered events newer than seq.
func (m *Manager) EventsSince(seq int64) []Event {
	return m.events.since(seq)
}

// Wait blocks until the upload leaves the active set or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (Item, error) {
	events, unsubscribe := m.Subscribe()
	defer unsubscribe()
	item, err := m.Get(id)
	if err != nil || !item.Active() {
		return item, err
	}
	for {
		select {
		case <-ctx.Done():
			return m.Get(id)
		case ev, ok := <-events:
			if !ok {
				return m.Get(id)
			}
			if ev.Item.ID == id && !ev.Item.Active() {
				return ev.Item, nil
			}
		}
	}
}

// Close cancels every running upload and waits for their goroutines.
func (m *Manager) Close() {
	m.stop()
	m.wg.Wait()
	m.events.closeAll()
}

// replace applies fn to a copy of the item under the collection lock, stores
// it and publishes the change. Cancelled or removed items are left alone and
// fn is not called.
func (m *Manager) replace(id string, fn func(*Item) (EventType, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.items[id]
	if !ok {
		return ErrUnknownUpload
	}
	if rec.cancelled {
		return errCancelled
	}
	next := rec.item
	eventType, err := fn(&next)
	if err != nil {
		return err
	}
	next.UpdatedAt = m.now()
	rec.item = next
	if eventType != "" {
		m.events.publish(Event{Type: eventType, Item: next})
	}
	return nil
}

var errCancelled = errors.New("upload cancelled")

// transition moves id to state.
func (m *Manager) transition(id string, state State) error {
	return m.replace(id, func(item *Item) (EventType, error) {
		from, to := item.State.Phase(), state.Phase()
		if !validTransition(from, to) {
			return "", fmt.Errorf("invalid upload transition %s -> %s", from, to)
		}
		item.State = state
		if from == PhaseTransferring && to == PhaseTransferring {
			return EventProgress, nil
		}
		return EventState, nil
	})
}
