package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

const branchBuffer = 64

// Fanout duplicates one [Source] into several branches that can be consumed
// independently, so the voice activity segmenter and the wake-word detector
// can both listen to the same capture device. Frames are shared, not copied;
// they are immutable once created, so branches must not modify the PCM.
//
// The underlying source starts when the first branch starts and stops when
// the last started branch stops. The pump's lifetime is owned by the fanout
// itself: it is bound to the acquire/release refcount, never to the context
// of whichever branch happened to start first. A branch that cannot keep up
// has frames dropped for it alone; the other branches are unaffected.
type Fanout struct {
	src Source

	// OnDrop, when set before the first branch starts, is called from the
	// pump goroutine each time a frame is discarded for a full branch.
	OnDrop func()

	mu       sync.Mutex
	branches []*fanBranch
	running  int
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewFanout creates a Fanout over src with n branches. The caller must not
// start or consume src directly anymore.
func NewFanout(src Source, n int) *Fanout {
	f := &Fanout{src: src}
	for i := 0; i < n; i++ {
		f.branches = append(f.branches, &fanBranch{
			fanout: f,
			frames: make(chan Frame, branchBuffer),
			errs:   make(chan error, 4),
		})
	}
	return f
}

// Branch returns branch i as a [Source]. Panics if i is out of range.
func (f *Fanout) Branch(i int) Source {
	return f.branches[i]
}

// Dropped returns the total number of frames discarded across all branches.
func (f *Fanout) Dropped() uint64 {
	var total uint64
	for _, b := range f.branches {
		total += b.dropped.Load()
	}
	return total
}

// acquire starts the underlying source and pump when the first branch
// starts.
func (f *Fanout) acquire(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running == 0 {
		// Detach from the caller's cancellation so stopping an individual
		// branch cannot starve the ones still running; only release of the
		// last branch tears the pump down.
		ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		if err := f.src.Start(ctx); err != nil {
			cancel()
			return fmt.Errorf("audio: starting fanout source: %w", err)
		}
		f.cancel = cancel
		f.done = make(chan struct{})
		go f.pump(ctx)
	}
	f.running++
	return nil
}

// release stops the underlying source when the last branch stops.
func (f *Fanout) release() error {
	f.mu.Lock()
	if f.running == 0 {
		f.mu.Unlock()
		return nil
	}
	f.running--
	if f.running > 0 {
		f.mu.Unlock()
		return nil
	}
	cancel, done := f.cancel, f.done
	f.mu.Unlock()

	cancel()
	err := f.src.Stop()
	<-done
	return err
}

// pump forwards frames and errors from the source to every branch.
func (f *Fanout) pump(ctx context.Context) {
	defer close(f.done)

	frames := f.src.Frames()
	srcErrs := f.src.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			for _, b := range f.branches {
				select {
				case b.frames <- frame:
				default:
					total := b.dropped.Add(1)
					if f.OnDrop != nil {
						f.OnDrop()
					}
					slog.Warn("fanout branch full, dropping frame",
						"dropped_total", total)
				}
			}
		case err, ok := <-srcErrs:
			if !ok {
				srcErrs = nil
				continue
			}
			for _, b := range f.branches {
				select {
				case b.errs <- err:
				default:
				}
			}
		}
	}
}

// fanBranch is one consumer-facing view of the fanout. It implements
// [Source].
type fanBranch struct {
	fanout *Fanout
	frames chan Frame
	errs   chan error

	mu      sync.Mutex
	started bool
	dropped atomic.Uint64
}

var _ Source = (*fanBranch)(nil)

func (b *fanBranch) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return errors.New("audio: fanout branch already started")
	}
	if err := b.fanout.acquire(ctx); err != nil {
		return err
	}
	b.started = true
	return nil
}

func (b *fanBranch) Frames() <-chan Frame { return b.frames }
func (b *fanBranch) Errors() <-chan error { return b.errs }

func (b *fanBranch) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return nil
	}
	b.started = false
	return b.fanout.release()
}
