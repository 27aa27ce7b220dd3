// File: cmd/hioload-relay/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// hioload-relay forwards TCP connections from a listen address to one
// upstream target on a fixed set of readiness loops.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/momentics/hioload-relay/facade"
	"github.com/momentics/hioload-relay/internal/limits"
	"github.com/momentics/hioload-relay/internal/selftest"
	"github.com/momentics/hioload-relay/proxyproto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Listen        string        `short:"l" long:"listen" env:"HIOLOAD_RELAY_LISTEN" description:"Listen address" default:":8080"`
	Target        string        `short:"t" long:"target" env:"HIOLOAD_RELAY_TARGET" description:"Upstream host:port"`
	Workers       int           `short:"w" long:"workers" description:"Worker loops (0 = one per CPU)" default:"0"`
	QueueCapacity int           `long:"queue-capacity" description:"Pending writes per direction before reads pause" default:"16"`
	ScratchSize   int           `long:"scratch-size" description:"Bytes read per readiness" default:"65536"`
	AcceptBatch   int           `long:"accept-batch" description:"Connections accepted per listener readiness" default:"64"`
	ProxyProtocol string        `long:"proxy-protocol" description:"PROXY header sent upstream" choice:"none" choice:"v1" choice:"v2" default:"none"`
	ResolveTTL    time.Duration `long:"resolve-ttl" description:"Upstream DNS cache lifetime" default:"30s"`
	PinCPUs       bool          `long:"pin-cpus" description:"Bind worker loops to CPUs"`
	NoFile        int           `long:"nofile" description:"Raise the open files soft limit (0 = hard limit, -1 = keep)" default:"0"`
	LogLevel      string        `long:"log-level" env:"HIOLOAD_RELAY_LOG_LEVEL" description:"Log level" default:"info"`
	Development   bool          `long:"dev" description:"Human readable console logs"`
	SelfTest      bool          `long:"self-test" description:"Relay a cyclic byte stream through a loopback echo upstream and exit"`
	SelfTestBytes int64         `long:"self-test-bytes" description:"Bytes streamed by --self-test" default:"16777216"`
}

func main() {
	var opts Options
	if _, err := flags.Parse(&opts); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return
		}
		os.Exit(2)
	}

	level, log, err := newLogger(opts.LogLevel, opts.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	if opts.NoFile >= 0 {
		if n, err := limits.RaiseNoFile(opts.NoFile); err != nil {
			log.Warn("open files limit unchanged", zap.Error(err))
		} else {
			log.Debug("open files limit", zap.Uint64("soft", n))
		}
	}

	if opts.SelfTest {
		if err := runSelfTest(&opts, log); err != nil {
			log.Error("self-test failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}
	if opts.Target == "" {
		log.Error("--target is required")
		os.Exit(2)
	}
	if err := run(&opts, &level, log); err != nil {
		log.Error("relay failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(levelName string, dev bool) (zap.AtomicLevel, *zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(levelName)
	if err != nil {
		return zap.AtomicLevel{}, nil, err
	}
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	log, err := cfg.Build()
	if err != nil {
		return zap.AtomicLevel{}, nil, err
	}
	return cfg.Level, log, nil
}

func buildConfig(opts *Options, log *zap.Logger) (*facade.Config, error) {
	version, err := proxyproto.ParseVersion(opts.ProxyProtocol)
	if err != nil {
		return nil, err
	}
	cfg := facade.DefaultConfig()
	cfg.ListenAddr = opts.Listen
	cfg.TargetAddr = opts.Target
	cfg.Workers = opts.Workers
	cfg.QueueCapacity = opts.QueueCapacity
	cfg.ScratchSize = opts.ScratchSize
	cfg.AcceptBatch = opts.AcceptBatch
	cfg.ProxyProtocol = version
	cfg.ResolveTTL = opts.ResolveTTL
	cfg.PinCPUs = opts.PinCPUs
	cfg.Logger = log
	return cfg, nil
}

func run(opts *Options, level *zap.AtomicLevel, log *zap.Logger) error {
	cfg, err := buildConfig(opts, log)
	if err != nil {
		return err
	}
	cfg.LogLevel = level
	r, err := facade.New(cfg)
	if err != nil {
		return err
	}
	if err := r.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 4)
	signal.Notify(sig, append([]os.Signal{os.Interrupt, syscall.SIGTERM}, controlSignals...)...)
	defer signal.Stop(sig)
	base := level.Level()
	for s := range sig {
		switch {
		case isDumpSignal(s):
			log.Info("state dump", zap.Any("probes", r.DumpState()), zap.Any("metrics", r.Metrics().GetSnapshot()))
		case isLevelSignal(s):
			next := zapcore.DebugLevel
			if level.Level() == zapcore.DebugLevel {
				next = base
			}
			_ = r.GetControl().SetConfig(map[string]any{"log.level": next.String()})
		default:
			log.Info("shutting down", zap.Stringer("signal", s))
			return r.Shutdown()
		}
	}
	return nil
}

func runSelfTest(opts *Options, log *zap.Logger) error {
	echo, err := selftest.StartEcho("127.0.0.1:0", opts.ProxyProtocol != "none", log)
	if err != nil {
		return err
	}
	defer echo.Close()

	opts.Listen = "127.0.0.1:0"
	opts.Target = echo.Addr()
	cfg, err := buildConfig(opts, log)
	if err != nil {
		return err
	}
	r, err := facade.New(cfg)
	if err != nil {
		return err
	}
	if err := r.Start(); err != nil {
		return err
	}
	defer r.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	res, err := selftest.RunCyclic(ctx, r.Addr(), opts.SelfTestBytes, 64*1024)
	if err != nil {
		return fmt.Errorf("after %d bytes sent, %d verified: %w", res.Sent, res.Received, err)
	}
	log.Info("self-test passed",
		zap.Int64("bytes", res.Received),
		zap.Duration("elapsed", res.Elapsed),
		zap.Float64("mib_per_sec", res.Throughput()/(1<<20)))
	return nil
}
