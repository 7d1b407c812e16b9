package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/earshot/earshot/pkg/audio"
)

// Miniaudio captures the platform default microphone through the miniaudio
// library. The OS backend (ALSA, PulseAudio, CoreAudio, WASAPI) is selected
// by miniaudio at context initialisation.
//
// The device callback runs on a real-time audio thread; it must never block.
// Frames are therefore handed off through a buffered channel and dropped
// (with the drop surfaced as a counter, not a stall) when the consumer lags.
type Miniaudio struct {
	cfg Config

	mu      sync.Mutex
	started bool
	ctx     *malgo.AllocatedContext
	device  *malgo.Device

	frames chan audio.Frame
	errs   chan error

	// pending accumulates callback bytes until a full frame is available.
	// Touched only on the device callback thread.
	pending []byte
	elapsed time.Duration
	dropped atomic.Uint64
}

var _ audio.Source = (*Miniaudio)(nil)

// NewMiniaudio creates a microphone source. The device is not opened until
// [Miniaudio.Start] is called.
func NewMiniaudio(cfg Config) (*Miniaudio, error) {
	cfg = cfg.withDefaults()
	return &Miniaudio{
		cfg:    cfg,
		frames: make(chan audio.Frame, cfg.ChannelBuffer),
		errs:   make(chan error, 1),
	}, nil
}

// Start opens the capture device and begins frame delivery. Starting an
// already started source returns an error. Device faults after a successful
// Start are reported on [Miniaudio.Errors].
func (m *Miniaudio) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return errors.New("capture: miniaudio source already started")
	}

	allocCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("capture: init miniaudio context: %w", err)
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.SampleRate = uint32(m.cfg.SampleRate)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(m.cfg.Channels)
	devCfg.Alsa.NoMMap = 1
	devCfg.PerformanceProfile = malgo.LowLatency

	if m.cfg.Device != "" {
		infos, err := allocCtx.Devices(malgo.Capture)
		if err != nil {
			_ = allocCtx.Uninit()
			allocCtx.Free()
			return fmt.Errorf("capture: enumerate devices: %w", err)
		}
		found := false
		want := strings.ToLower(m.cfg.Device)
		for _, info := range infos {
			if strings.Contains(strings.ToLower(info.Name()), want) {
				devCfg.Capture.DeviceID = info.ID.Pointer()
				found = true
				break
			}
		}
		if !found {
			_ = allocCtx.Uninit()
			allocCtx.Free()
			return fmt.Errorf("capture: no capture device matching %q", m.cfg.Device)
		}
	}

	bytesPerFrame := malgo.SampleSizeInBytes(malgo.FormatS16) * m.cfg.Channels

	device, err := malgo.InitDevice(allocCtx.Context, devCfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if n == 0 || len(input) < n {
				return
			}
			m.ingest(input[:n])
		},
		Stop: func() {
			select {
			case m.errs <- errors.New("capture: device stopped unexpectedly"):
			default:
			}
		},
	})
	if err != nil {
		_ = allocCtx.Uninit()
		allocCtx.Free()
		return fmt.Errorf("capture: init capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = allocCtx.Uninit()
		allocCtx.Free()
		return fmt.Errorf("capture: start capture device: %w", err)
	}

	m.ctx = allocCtx
	m.device = device
	m.started = true

	// Tie the capture session to ctx so cancellation releases the device
	// even when Stop is never called explicitly.
	go func() {
		<-ctx.Done()
		_ = m.Stop()
	}()

	return nil
}

// ingest appends callback bytes to the pending buffer and emits complete
// frames. Runs on the miniaudio real-time thread: no locks shared with slow
// paths, no blocking sends.
func (m *Miniaudio) ingest(b []byte) {
	m.pending = append(m.pending, b...)
	frameBytes := m.cfg.frameBytes()

	for len(m.pending) >= frameBytes {
		pcm := make([]byte, frameBytes)
		copy(pcm, m.pending[:frameBytes])
		m.pending = m.pending[frameBytes:]

		f := audio.Frame{
			PCM:        pcm,
			SampleRate: m.cfg.SampleRate,
			Channels:   m.cfg.Channels,
			Timestamp:  m.elapsed,
		}
		m.elapsed += m.cfg.FrameDuration

		select {
		case m.frames <- f:
		default:
			m.dropped.Add(1)
		}
	}
}

// Frames returns the delivery channel. Closed when the source stops.
func (m *Miniaudio) Frames() <-chan audio.Frame { return m.frames }

// Errors returns the capture fault channel. Closed when the source stops.
func (m *Miniaudio) Errors() <-chan error { return m.errs }

// Dropped reports how many frames were discarded because the consumer lagged.
func (m *Miniaudio) Dropped() uint64 { return m.dropped.Load() }

// Stop releases the capture device and closes both channels. Safe to call
// more than once; subsequent calls are no-ops and return nil.
func (m *Miniaudio) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}
	m.started = false

	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
	close(m.frames)
	close(m.errs)
	return nil
}
