package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"layeh.com/gopus"

	"github.com/earshot/earshot/pkg/audio"
)

// Opus feeds arrive as 48 kHz stereo packets at 20 ms frame size; the decoded
// PCM is converted to the pipeline format before delivery.
const (
	opusSampleRate  = 48000
	opusChannels    = 2
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms packet.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
)

// OpusFeed is an [audio.Source] that decodes a stream of Opus packets,
// delivered on a caller-owned channel, into PCM frames. It exists for
// deployments where the capture device lives on another machine and ships
// compressed audio over the network.
type OpusFeed struct {
	cfg     Config
	packets <-chan []byte

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	frames chan audio.Frame
	errs   chan error
}

var _ audio.Source = (*OpusFeed)(nil)

// NewOpusFeed creates an Opus-decoding source reading packets from packets.
// The caller owns the packet channel and signals end-of-stream by closing it.
func NewOpusFeed(cfg Config, packets <-chan []byte) (*OpusFeed, error) {
	if packets == nil {
		return nil, errors.New("capture: opus packet channel must not be nil")
	}
	cfg = cfg.withDefaults()
	return &OpusFeed{
		cfg:     cfg,
		packets: packets,
		frames:  make(chan audio.Frame, cfg.ChannelBuffer),
		errs:    make(chan error, 1),
	}, nil
}

// Start launches the decode goroutine. Starting twice returns an error.
func (o *OpusFeed) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return errors.New("capture: opus source already started")
	}

	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return fmt.Errorf("capture: create opus decoder: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.started = true

	o.wg.Add(1)
	go o.decodeLoop(runCtx, dec)
	return nil
}

// decodeLoop decodes packets until the packet channel closes or the context
// is cancelled, converting each decoded packet to the pipeline format.
func (o *OpusFeed) decodeLoop(ctx context.Context, dec *gopus.Decoder) {
	defer o.wg.Done()
	defer close(o.frames)
	defer close(o.errs)

	conv := audio.FormatConverter{
		Target: audio.Format{SampleRate: o.cfg.SampleRate, Channels: o.cfg.Channels},
	}
	var elapsed time.Duration

	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-o.packets:
			if !ok {
				return
			}
			pcm, err := dec.Decode(pkt, opusFrameSize, false)
			if err != nil {
				select {
				case o.errs <- fmt.Errorf("capture: opus decode: %w", err):
				default:
				}
				continue
			}
			frame := conv.Convert(audio.Frame{
				PCM:        audio.Int16ToBytes(pcm),
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
				Timestamp:  elapsed,
			})
			elapsed += opusFrameSizeMs * time.Millisecond
			if len(frame.PCM) == 0 {
				continue
			}
			select {
			case o.frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Frames returns the delivery channel. Closed when the source stops.
func (o *OpusFeed) Frames() <-chan audio.Frame { return o.frames }

// Errors returns the decode fault channel. Closed when the source stops.
func (o *OpusFeed) Errors() <-chan error { return o.errs }

// Stop cancels the decode goroutine and waits for it to exit. Safe to call
// more than once.
func (o *OpusFeed) Stop() error {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return nil
	}
	o.started = false
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	o.wg.Wait()
	return nil
}
