package media

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	opusFrameInterval = 20 * time.Millisecond
	vp8FrameInterval  = 33 * time.Millisecond

	opusPayloadType = 111
	vp8PayloadType  = 96

	opusClockRate = 48000
	vp8ClockRate  = 90000
)

// SyntheticOpener produces generated tracks: silence for audio, a test
// pattern for video. It stands in for real capture hardware in the headless
// client and in tests.
type SyntheticOpener struct{}

func (SyntheticOpener) OpenMicrophone(ctx context.Context) (Device, error) {
	return openSynthetic(ctx, "audio", webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: opusClockRate,
		Channels:  2,
	}, opusPayloadType, opusFrameInterval)
}

func (SyntheticOpener) OpenCamera(ctx context.Context) (Device, error) {
	return openSynthetic(ctx, "camera", webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: vp8ClockRate,
	}, vp8PayloadType, vp8FrameInterval)
}

func (SyntheticOpener) OpenScreen(ctx context.Context) (Device, error) {
	return openSynthetic(ctx, "screen", webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeVP8,
		ClockRate: vp8ClockRate,
	}, vp8PayloadType, vp8FrameInterval)
}

type syntheticDevice struct {
	track    *webrtc.TrackLocalStaticRTP
	label    string
	enabled  atomic.Bool
	cancel   context.CancelFunc
	interval time.Duration
	pt       uint8
	clock    uint32
}

func openSynthetic(ctx context.Context, label string, cap webrtc.RTPCodecCapability, pt uint8, interval time.Duration) (Device, error) {
	track, err := webrtc.NewTrackLocalStaticRTP(cap, fmt.Sprintf("%s-%s", label, uuid.NewString()[:8]), "telemeet")
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	d := &syntheticDevice{
		track:    track,
		label:    label,
		cancel:   cancel,
		interval: interval,
		pt:       pt,
		clock:    cap.ClockRate,
	}
	d.enabled.Store(true)
	go d.pump(ctx)
	return d, nil
}

// pump emits one small RTP packet per frame interval while enabled. The
// payload content is irrelevant; peers only need a live, timed packet flow.
func (d *syntheticDevice) pump(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	seq := uint16(0)
	ts := uint32(0)
	step := uint32(uint64(d.clock) * uint64(d.interval) / uint64(time.Second))
	payload := make([]byte, 16)

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "media").Str("device", d.label).Msg("pump stopped")
			return
		case <-ticker.C:
			seq++
			ts += step
			if !d.enabled.Load() {
				continue
			}
			pkt := &rtp.Packet{
				Header: rtp.Header{
					Version:        2,
					PayloadType:    d.pt,
					SequenceNumber: seq,
					Timestamp:      ts,
				},
				Payload: payload,
			}
			if err := d.track.WriteRTP(pkt); err != nil {
				log.Debug().Err(err).Str("module", "media").Str("device", d.label).Msg("write rtp")
			}
		}
	}
}

func (d *syntheticDevice) Track() webrtc.TrackLocal { return d.track }
func (d *syntheticDevice) SetEnabled(v bool)        { d.enabled.Store(v) }
func (d *syntheticDevice) Stop()                    { d.cancel() }
