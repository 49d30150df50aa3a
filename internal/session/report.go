// ABOUTME: Periodic reporter turning callback counters into logs and metrics
// ABOUTME: Logs once at the start of each overrun or underrun episode
package session

import (
	"context"
	"time"

	"github.com/Resonate-Protocol/lanrelay/internal/metrics"
)

type counters struct {
	sent, received, malformed  uint64
	captureOverruns, underruns uint64
	playbackOverruns           uint64
}

func (c counters) sub(o counters) counters {
	return counters{
		sent:             c.sent - o.sent,
		received:         c.received - o.received,
		malformed:        c.malformed - o.malformed,
		captureOverruns:  c.captureOverruns - o.captureOverruns,
		underruns:        c.underruns - o.underruns,
		playbackOverruns: c.playbackOverruns - o.playbackOverruns,
	}
}

func (s *Session) readCounters(p *pipeline) counters {
	return counters{
		sent:             s.stats.Sent.Load(),
		received:         s.stats.Received.Load(),
		malformed:        s.stats.Malformed.Load(),
		captureOverruns:  p.captureOverruns.Load(),
		underruns:        p.underruns.Load(),
		playbackOverruns: s.stats.Overruns.Load(),
	}
}

// report runs until ctx is done.
func (s *Session) report(ctx context.Context, p *pipeline) {
	ticker := time.NewTicker(s.opts.ReportInterval)
	defer ticker.Stop()

	var (
		last       counters
		inOverrun  bool
		inUnderrun bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cur := s.readCounters(p)
		d := cur.sub(last)
		last = cur

		if d.captureOverruns > 0 && !inOverrun {
			s.logger.Warn().Uint64("dropped", d.captureOverruns).Msg("Input stream fell behind: try increasing latency")
		}
		inOverrun = d.captureOverruns > 0

		if d.underruns > 0 && !inUnderrun {
			s.logger.Warn().Uint64("missing", d.underruns).Msg("Output stream fell behind: try increasing latency")
		}
		inUnderrun = d.underruns > 0

		m := s.opts.Metrics
		m.RecordSent(d.sent)
		m.RecordReceived(d.received)
		m.RecordMalformed(d.malformed)
		m.RecordOverruns(metrics.RingCapture, d.captureOverruns)
		m.RecordOverruns(metrics.RingPlayback, d.playbackOverruns)
		m.RecordUnderruns(metrics.RingPlayback, d.underruns)

		capture, playback := p.fill()
		m.SetRingFill(metrics.RingCapture, capture)
		m.SetRingFill(metrics.RingPlayback, playback)

		s.logger.Debug().
			Uint64("sent", d.sent).
			Uint64("received", d.received).
			Int("capture_fill", capture).
			Int("playback_fill", playback).
			Msg("Relay stats")
	}
}
