package replay

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"

	"relay/internal/logging"
)

// Handle exposes one clip's whole segment blob. Mapped handles must not be
// read after Close.
type Handle struct {
	Clip   ClipSource
	data   []byte
	mapped mmap.MMap
	file   *os.File
}

// Bytes returns the segment blob.
func (h *Handle) Bytes() []byte { return h.data }

// Mapped reports whether the bytes are a read-only file mapping.
func (h *Handle) Mapped() bool { return h.mapped != nil }

// Close releases the mapping, if any.
func (h *Handle) Close() error {
	var errs []error
	if h.mapped != nil {
		errs = append(errs, h.mapped.Unmap())
		h.mapped = nil
	}
	if h.file != nil {
		errs = append(errs, h.file.Close())
		h.file = nil
	}
	h.data = nil
	return errors.Join(errs...)
}

// Playback is the set of handles for a reconstructed window, in clip order.
type Playback struct {
	SessionID string
	Handles   []*Handle
}

// Close releases every handle.
func (p *Playback) Close() error {
	var errs []error
	for _, h := range p.Handles {
		errs = append(errs, h.Close())
	}
	return errors.Join(errs...)
}

// Open resolves each clip to its blob. The caller owns the result and must
// Close it.
func (r *Reconstructor) Open(ctx context.Context, sessionID string, clips []ClipSource) (*Playback, error) {
	pb := &Playback{SessionID: sessionID}
	for _, clip := range clips {
		h, err := r.openHandle(ctx, sessionID, clip)
		if err != nil {
			_ = pb.Close()
			return nil, fmt.Errorf("open segment %s: %w", clip.SegmentID, err)
		}
		pb.Handles = append(pb.Handles, h)
	}
	return pb, nil
}

func (r *Reconstructor) openHandle(ctx context.Context, sessionID string, clip ClipSource) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.locator != nil {
		if path, ok := r.locator.Locate(sessionID, clip.SegmentID); ok {
			h, err := mapFile(path, clip)
			if err == nil {
				return h, nil
			}
			r.logger.Debug("blob mapping failed; reading instead", logging.String("path", path), logging.Error(err))
		}
	}
	data, err := r.source.GetSegment(ctx, sessionID, clip.SegmentID)
	if err != nil {
		return nil, err
	}
	return &Handle{Clip: clip, data: data}, nil
}

func mapFile(path string, clip ClipSource) (*Handle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	if info.Size() == 0 {
		_ = file.Close()
		return &Handle{Clip: clip, data: []byte{}}, nil
	}
	mapped, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &Handle{Clip: clip, data: mapped, mapped: mapped, file: file}, nil
}
