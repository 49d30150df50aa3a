// ABOUTME: The scan command: one-shot peer discovery
// ABOUTME: Sweeps a subnet or browses mDNS and prints the peers found
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/lanrelay/internal/discovery"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var scanFlags struct {
	subnet  string
	method  string
	port    int
	workers int
	timeout time.Duration
	limit   int
	verbose bool
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List hosts accepting relay connections",
	Args:  cobra.NoArgs,
	RunE:  runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringVar(&scanFlags.subnet, "subnet", "", "subnet in CIDR form (default: the local subnet)")
	f.StringVar(&scanFlags.method, "method", "", "sweep or mdns")
	f.IntVarP(&scanFlags.port, "port", "p", 0, "relay port")
	f.IntVar(&scanFlags.workers, "workers", 0, "concurrent dials")
	f.DurationVar(&scanFlags.timeout, "timeout", 0, "overall scan timeout")
	f.IntVar(&scanFlags.limit, "limit", 0, "stop after this many peers (0 for all)")
	f.BoolVarP(&scanFlags.verbose, "verbose", "v", false, "log scan progress")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("subnet") {
		cfg.Scan.Subnet = scanFlags.subnet
	}
	if f.Changed("method") {
		cfg.Scan.Method = scanFlags.method
	}
	if f.Changed("port") {
		cfg.Port = scanFlags.port
	}
	if f.Changed("workers") {
		cfg.Scan.Workers = scanFlags.workers
	}
	if f.Changed("timeout") {
		cfg.Scan.Timeout = scanFlags.timeout
	}
	cfg.Scan.Limit = scanFlags.limit
	if err := cfg.Scan.Validate(); err != nil {
		return err
	}

	logger := zerolog.Nop()
	if scanFlags.verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Scan.Timeout)
	defer cancel()

	out := cmd.OutOrStdout()

	if cfg.Scan.Method == "mdns" {
		m := discovery.NewManager(discovery.Config{Logger: logger})
		candidates, err := m.Browse(ctx, cfg.Scan.Timeout)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return discovery.ErrNoPeers
		}
		for _, c := range candidates {
			fmt.Fprintf(out, "%s\t%s\n", c.Addr, c.Name)
		}
		return nil
	}

	var subnet discovery.Subnet
	if cfg.Scan.Subnet != "" {
		subnet, err = discovery.ParseSubnet(cfg.Scan.Subnet)
	} else {
		subnet, err = discovery.LocalSubnet()
	}
	if err != nil {
		return err
	}

	scanner := discovery.NewScanner(discovery.ScanConfig{
		Workers:          cfg.Scan.Workers,
		Port:             cfg.Port,
		DialTimeout:      cfg.Scan.DialTimeout,
		ExcludeSelf:      cfg.Scan.ExcludeSelf,
		ExcludeBroadcast: cfg.Scan.ExcludeBroadcast,
		Logger:           logger,
	})

	fmt.Fprintf(cmd.ErrOrStderr(), "Scanning %s on port %d...\n", subnet, cfg.Port)
	peers, err := scanner.Find(ctx, subnet, cfg.Scan.Limit)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, p := range peers {
		fmt.Fprintln(out, p.Addr)
		p.Close()
	}
	return nil
}
