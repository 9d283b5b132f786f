package blobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"relay/internal/logging"
)

// Tiered routes writes to the primary tier when it is available and falls back
// to the secondary tier otherwise. Reads consult primary first.
type Tiered struct {
	primary  Backend
	fallback Backend
	logger   *slog.Logger
}

// NewTiered combines two tiers. Either may be nil, but not both.
func NewTiered(primary, fallback Backend, logger *slog.Logger) (*Tiered, error) {
	if primary == nil && fallback == nil {
		return nil, errors.New("no blob tier available")
	}
	return &Tiered{
		primary:  primary,
		fallback: fallback,
		logger:   logging.NewComponentLogger(logger, "blobstore"),
	}, nil
}

func (t *Tiered) Name() string {
	switch {
	case t.primary != nil && t.fallback != nil:
		return t.primary.Name() + "+" + t.fallback.Name()
	case t.primary != nil:
		return t.primary.Name()
	default:
		return t.fallback.Name()
	}
}

// Tiers lists the active tier names, primary first.
func (t *Tiered) Tiers() []string {
	var names []string
	for _, b := range t.tiers() {
		names = append(names, b.Name())
	}
	return names
}

func (t *Tiered) tiers() []Backend {
	out := make([]Backend, 0, 2)
	if t.primary != nil {
		out = append(out, t.primary)
	}
	if t.fallback != nil {
		out = append(out, t.fallback)
	}
	return out
}

func (t *Tiered) Put(ctx context.Context, sessionID, segmentID string, data []byte) error {
	if err := validateKey(sessionID, segmentID); err != nil {
		return err
	}
	if t.primary != nil {
		err := t.primary.Put(ctx, sessionID, segmentID, data)
		if err == nil || t.fallback == nil || ctx.Err() != nil {
			return err
		}
		logging.WarnWithContext(t.logger, "primary blob write failed; using fallback", "blob_tier_fallback",
			logging.String(logging.FieldSessionID, sessionID),
			logging.String(logging.FieldSegmentID, segmentID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check free space and permissions on the segment directory"),
			logging.String(logging.FieldImpact, "segment stored in the fallback database"),
		)
	}
	return t.fallback.Put(ctx, sessionID, segmentID, data)
}

func (t *Tiered) Get(ctx context.Context, sessionID, segmentID string) ([]byte, error) {
	for _, b := range t.tiers() {
		data, err := b.Get(ctx, sessionID, segmentID)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%s tier: %w", b.Name(), err)
		}
	}
	return nil, ErrNotFound
}

func (t *Tiered) List(ctx context.Context, sessionID string) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, b := range t.tiers() {
		listed, err := b.List(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("%s tier: %w", b.Name(), err)
		}
		for _, id := range listed {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the blob from every tier.
func (t *Tiered) Delete(ctx context.Context, sessionID, segmentID string) error {
	var errs []error
	for _, b := range t.tiers() {
		if err := b.Delete(ctx, sessionID, segmentID); err != nil {
			errs = append(errs, fmt.Errorf("%s tier: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Locate reports a file path when the blob lives on a file-backed tier.
func (t *Tiered) Locate(sessionID, segmentID string) (string, bool) {
	for _, b := range t.tiers() {
		if loc, ok := b.(Locator); ok {
			if path, found := loc.Locate(sessionID, segmentID); found {
				return path, true
			}
		}
	}
	return "", false
}

func (t *Tiered) Close() error {
	var errs []error
	for _, b := range t.tiers() {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
