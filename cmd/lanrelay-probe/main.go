// ABOUTME: Headless relay peer for checking a link without audio hardware
// ABOUTME: Streams a test tone, counts what comes back and reports loss and level
package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/lanrelay/internal/discovery"
	"github.com/Resonate-Protocol/lanrelay/internal/relay"
	"github.com/Resonate-Protocol/lanrelay/pkg/audio/source"
	"github.com/Resonate-Protocol/lanrelay/pkg/protocol"
	"github.com/Resonate-Protocol/lanrelay/pkg/ring"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// tick is the pacing period of the tone generator and the drain loop.
const tick = 10 * time.Millisecond

var opts struct {
	listen     bool
	role       string
	transport  string
	port       int
	duration   time.Duration
	sampleRate int
	channels   int
	frequency  float64
	debug      bool
}

var rootCmd = &cobra.Command{
	Use:   "lanrelay-probe [peer]",
	Short: "Exercise a relay link with a test tone and report what arrived",
	Long: `lanrelay-probe speaks the relay wire format without opening audio devices.
It paces a sine tone into the link at the configured sample rate, counts the
samples the peer sends back and prints throughput, loss and signal level.

Point two probes at each other, or a probe at a running lanrelay.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runProbe,
}

func init() {
	f := rootCmd.Flags()
	f.BoolVarP(&opts.listen, "listen", "l", false, "wait for the peer to connect")
	f.StringVarP(&opts.role, "role", "r", "duplex", "send, receive or duplex")
	f.StringVarP(&opts.transport, "transport", "t", "tcp", "tcp or udp")
	f.IntVarP(&opts.port, "port", "p", protocol.DefaultPort, "relay port")
	f.DurationVarP(&opts.duration, "duration", "d", 10*time.Second, "how long to stream")
	f.IntVar(&opts.sampleRate, "rate", 48000, "sample rate of the generated tone")
	f.IntVar(&opts.channels, "channels", 1, "channel count of the generated tone")
	f.Float64Var(&opts.frequency, "tone", source.DefaultToneHz, "tone frequency in Hz")
	f.BoolVar(&opts.debug, "debug", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// report is what the probe observed.
type report struct {
	elapsed  time.Duration
	sent     uint64
	received uint64
	overruns uint64
	bad      uint64
	sumSq    float64
	peak     float64
}

func runProbe(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if opts.debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	role, err := relay.ParseRole(opts.role)
	if err != nil {
		return err
	}
	transport, err := protocol.ParseTransport(opts.transport)
	if err != nil {
		return err
	}
	if transport.Datagram() && role == relay.RoleDuplex {
		return errors.New("udp is one-way; duplex needs tcp")
	}
	if opts.listen == (len(args) == 1) {
		return errors.New("give either a peer or --listen")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := connect(ctx, transport, args, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	logger.Info().
		Stringer("role", role).
		Str("transport", string(transport)).
		Dur("duration", opts.duration).
		Msg("Probing")

	r, err := probe(ctx, role, transport, conn, logger)
	if err != nil {
		return err
	}
	printReport(cmd, r)
	return nil
}

func connect(ctx context.Context, transport protocol.Transport, args []string, logger zerolog.Logger) (net.Conn, error) {
	if opts.listen {
		if transport.Datagram() {
			conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: opts.port})
			if err != nil {
				return nil, err
			}
			logger.Info().Stringer("addr", conn.LocalAddr()).Msg("Receiving datagrams")
			return conn, nil
		}
		ln, err := net.Listen("tcp", ":"+strconv.Itoa(opts.port))
		if err != nil {
			return nil, err
		}
		defer ln.Close()
		logger.Info().Stringer("addr", ln.Addr()).Msg("Waiting for peer")

		stopAccept := context.AfterFunc(ctx, func() { ln.Close() })
		defer stopAccept()
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		logger.Info().Stringer("peer", conn.RemoteAddr()).Msg("Peer connected")
		return conn, nil
	}

	host, port, err := net.SplitHostPort(args[0])
	if err != nil {
		host, port = args[0], strconv.Itoa(opts.port)
	}
	addr := net.JoinHostPort(host, port)

	if transport.Datagram() {
		var d net.Dialer
		return d.DialContext(ctx, "udp", addr)
	}
	scanner := discovery.NewScanner(discovery.ScanConfig{
		DialTimeout: 5 * time.Second,
		Logger:      logger,
	})
	peer, err := scanner.DialAddr(ctx, addr)
	if err != nil {
		return nil, err
	}
	logger.Info().Stringer("peer", peer).Msg("Connected")
	return peer.Conn, nil
}

func probe(ctx context.Context, role relay.Role, transport protocol.Transport, conn net.Conn, logger zerolog.Logger) (report, error) {
	blockSamples := opts.sampleRate * opts.channels * int(tick/time.Millisecond) / 1000
	capP, capC := ring.New(8 * blockSamples)
	playP, playC := ring.New(8 * blockSamples)

	stats := &relay.Stats{}
	ropts := relay.Options{
		Datagram: transport.Datagram(),
		Logger:   logger,
		Stats:    stats,
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	var (
		r       report
		dropped atomic.Uint64
	)
	start := time.Now()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		err := relay.Run(gctx, role, conn, capC, playP, ropts)
		if errors.Is(err, relay.ErrPeerClosed) {
			logger.Info().Msg("Peer closed the link")
			cancel()
			return nil
		}
		return err
	})

	if role.Sends() {
		tone := source.NewTone(opts.frequency, opts.sampleRate, opts.channels)
		g.Go(func() error {
			block := make([]float32, blockSamples)
			ticker := time.NewTicker(tick)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					tone.Read(block)
					if n := capP.PushSlice(block); n < len(block) {
						dropped.Add(uint64(len(block) - n))
					}
				}
			}
		})
	}

	// Drain the playback ring on this goroutine; it is the ring's only consumer.
	block := make([]float32, blockSamples)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	drain := func() {
		for {
			n := playC.PopSlice(block)
			if n == 0 {
				return
			}
			for _, s := range block[:n] {
				v := math.Abs(float64(s))
				r.sumSq += v * v
				if v > r.peak {
					r.peak = v
				}
			}
		}
	}
	for gctx.Err() == nil {
		select {
		case <-gctx.Done():
		case <-ticker.C:
			drain()
		}
	}
	err := g.Wait()
	drain()

	r.elapsed = time.Since(start)
	r.sent = stats.Sent.Load()
	r.received = stats.Received.Load()
	r.overruns = stats.Overruns.Load() + dropped.Load()
	r.bad = stats.Malformed.Load()
	if err != nil && ctx.Err() == nil {
		return r, err
	}
	return r, nil
}

func printReport(cmd *cobra.Command, r report) {
	out := cmd.OutOrStdout()
	expected := r.elapsed.Seconds() * float64(opts.sampleRate*opts.channels)

	fmt.Fprintf(out, "elapsed   %s\n", r.elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "sent      %d samples (%.1f%% of real time)\n", r.sent, percent(float64(r.sent), expected))
	fmt.Fprintf(out, "received  %d samples (%.1f%% of real time)\n", r.received, percent(float64(r.received), expected))
	fmt.Fprintf(out, "dropped   %d samples\n", r.overruns)
	if r.bad > 0 {
		fmt.Fprintf(out, "malformed %d datagrams\n", r.bad)
	}
	if r.received > 0 {
		rms := math.Sqrt(r.sumSq / float64(r.received))
		fmt.Fprintf(out, "level     rms %.3f  peak %.3f\n", rms, r.peak)
	}
}

func percent(n, of float64) float64 {
	if of <= 0 {
		return 0
	}
	return 100 * n / of
}
