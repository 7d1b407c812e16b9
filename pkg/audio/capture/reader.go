package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/earshot/earshot/pkg/audio"
)

// Reader is an [audio.Source] that pulls fixed-size frames from an io.Reader.
// It backs the "reader" factory entry and is the workhorse of pipeline tests:
// wrap a bytes.Reader around synthetic PCM and the whole pipeline runs
// against it without a device.
type Reader struct {
	cfg Config
	r   io.Reader

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	frames chan audio.Frame
	errs   chan error

	// Realtime paces delivery at one frame per FrameDuration instead of
	// reading as fast as the reader allows. Off by default.
	Realtime bool
}

var _ audio.Source = (*Reader)(nil)

// NewReader creates a reader-backed source. The reader must yield 16-bit LE
// PCM in the configured format; a short final frame is discarded.
func NewReader(cfg Config, r io.Reader) *Reader {
	cfg = cfg.withDefaults()
	return &Reader{
		cfg:    cfg,
		r:      r,
		frames: make(chan audio.Frame, cfg.ChannelBuffer),
		errs:   make(chan error, 1),
	}
}

// Start launches the read goroutine. Starting twice returns an error.
func (s *Reader) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("capture: reader source already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	s.wg.Add(1)
	go s.readLoop(runCtx)
	return nil
}

func (s *Reader) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.frames)
	defer close(s.errs)

	frameBytes := s.cfg.frameBytes()
	var elapsed time.Duration

	var ticker *time.Ticker
	if s.Realtime {
		ticker = time.NewTicker(s.cfg.FrameDuration)
		defer ticker.Stop()
	}

	for {
		buf := make([]byte, frameBytes)
		if _, err := io.ReadFull(s.r, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				select {
				case s.errs <- fmt.Errorf("capture: read frame: %w", err):
				default:
				}
			}
			return
		}

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}

		f := audio.Frame{
			PCM:        buf,
			SampleRate: s.cfg.SampleRate,
			Channels:   s.cfg.Channels,
			Timestamp:  elapsed,
		}
		elapsed += s.cfg.FrameDuration

		select {
		case s.frames <- f:
		case <-ctx.Done():
			return
		}
	}
}

// Frames returns the delivery channel. Closed when the reader is exhausted
// or the source stops.
func (s *Reader) Frames() <-chan audio.Frame { return s.frames }

// Errors returns the read fault channel. Closed when the source stops.
func (s *Reader) Errors() <-chan error { return s.errs }

// Stop cancels the read goroutine and waits for it to exit. Safe to call
// more than once.
func (s *Reader) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	return nil
}
