// ABOUTME: The relay command: flags, logging, session, status server and TUI
// ABOUTME: Everything runs under one errgroup and stops on SIGINT/SIGTERM
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/lanrelay/internal/config"
	"github.com/Resonate-Protocol/lanrelay/internal/logging"
	"github.com/Resonate-Protocol/lanrelay/internal/metrics"
	"github.com/Resonate-Protocol/lanrelay/internal/session"
	"github.com/Resonate-Protocol/lanrelay/internal/status"
	"github.com/Resonate-Protocol/lanrelay/internal/ui"
	"github.com/Resonate-Protocol/lanrelay/internal/version"
	"github.com/Resonate-Protocol/lanrelay/pkg/audio/device"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// defaultTUILogFile receives logs when the TUI owns the terminal and no
// log file is configured.
const defaultTUILogFile = "lanrelay.log"

type runFlags struct {
	listen     bool
	role       string
	transport  string
	port       int
	latency    float64
	input      string
	output     string
	reconnect  bool
	statusAddr string
	noTUI      bool
	logLevel   string
	logFile    string
	scanMethod string
	subnet     string
	announce   bool
}

var rf runFlags

func registerRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVarP(&rf.listen, "listen", "l", false, "wait for the peer to connect instead of dialing")
	f.StringVarP(&rf.role, "role", "r", "", "send, receive or duplex")
	f.StringVarP(&rf.transport, "transport", "t", "", "tcp or udp")
	f.IntVarP(&rf.port, "port", "p", 0, "relay port")
	f.Float64Var(&rf.latency, "latency", 0, "jitter buffer latency in milliseconds")
	f.StringVarP(&rf.input, "input", "i", "", "input device, or null, tone, tone:<hz>, file:<path.mp3|path.flac>")
	f.StringVarP(&rf.output, "output", "o", "", "output device, or null")
	f.BoolVar(&rf.reconnect, "reconnect", false, "reconnect after the peer goes away")
	f.StringVar(&rf.statusAddr, "status-addr", "", "serve /status, /metrics and /ws on this address")
	f.BoolVar(&rf.noTUI, "no-tui", false, "disable the TUI and log to the console")
	f.StringVar(&rf.logLevel, "log-level", "", "debug, info, warn or error")
	f.StringVar(&rf.logFile, "log-file", "", "also write logs to this file")
	f.StringVar(&rf.scanMethod, "discover", "", "peer discovery when the peer is auto: sweep or mdns")
	f.StringVar(&rf.subnet, "subnet", "", "subnet to sweep in CIDR form (default: the local subnet)")
	f.BoolVar(&rf.announce, "announce", false, "advertise over mDNS while listening")
}

// applyRunFlags layers explicitly set flags and the peer argument over cfg.
func applyRunFlags(cmd *cobra.Command, args []string, cfg *config.Config) {
	f := cmd.Flags()
	if len(args) == 1 {
		cfg.Peer = args[0]
	}
	if f.Changed("listen") {
		cfg.Listen = rf.listen
		if rf.listen && len(args) == 0 {
			cfg.Peer = config.PeerAuto
		}
	}
	if f.Changed("role") {
		cfg.Role = rf.role
	}
	if f.Changed("transport") {
		cfg.Transport = rf.transport
	}
	if f.Changed("port") {
		cfg.Port = rf.port
	}
	if f.Changed("latency") {
		cfg.Audio.LatencyMs = rf.latency
	}
	if f.Changed("input") {
		cfg.Audio.Input = rf.input
	}
	if f.Changed("output") {
		cfg.Audio.Output = rf.output
	}
	if f.Changed("reconnect") {
		cfg.Reconnect = rf.reconnect
	}
	if f.Changed("status-addr") {
		cfg.Status.Addr = rf.statusAddr
	}
	if f.Changed("no-tui") {
		cfg.UI.Enabled = !rf.noTUI
	}
	if f.Changed("log-level") {
		cfg.Log.Level = rf.logLevel
	}
	if f.Changed("log-file") {
		cfg.Log.File = rf.logFile
	}
	if f.Changed("discover") {
		cfg.Scan.Method = rf.scanMethod
	}
	if f.Changed("subnet") {
		cfg.Scan.Subnet = rf.subnet
	}
	if f.Changed("announce") {
		cfg.Scan.Announce = rf.announce
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, args, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	// TUI mode: log only to file
	var console io.Writer = os.Stderr
	if cfg.UI.Enabled {
		console = nil
		if cfg.Log.File == "" {
			cfg.Log.File = defaultTUILogFile
		}
	}
	logger, logCloser, err := logging.New(cfg.Log, console)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer logCloser.Close()

	logger.Info().
		Str("version", version.Version).
		Str("role", cfg.Role).
		Str("transport", cfg.Transport).
		Str("peer", cfg.Peer).
		Bool("listen", cfg.Listen).
		Msg("Starting " + version.Product)

	host, err := device.NewHost(cfg.Audio.Backend, logger)
	if err != nil {
		return err
	}
	defer host.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	sess, err := session.New(cfg, host, session.Options{
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	ctx, stopSignals := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		defer stop()
		return sess.Run(runCtx)
	})

	if cfg.Status.Addr != "" {
		srv := status.New(status.Config{
			Addr:     cfg.Status.Addr,
			Source:   sess,
			Gatherer: reg,
			Logger:   logger,
		})
		g.Go(func() error {
			return srv.Run(runCtx)
		})
	}

	if cfg.UI.Enabled {
		tui := ui.New(sess)
		g.Go(func() error {
			defer stop()
			return tui.Run(runCtx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		logger.Error().Err(err).Msg("Relay stopped")
	} else {
		logger.Info().Msg("Relay stopped")
	}
	return err
}
