package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.tigermatt.uk/flashops"
	"go.tigermatt.uk/flashops/internal/config"
	"go.tigermatt.uk/flashops/internal/logger"
	"go.tigermatt.uk/flashops/loader"
	"golang.org/x/sync/errgroup"
)

var (
	configPath string
	portName   string
	baudRate   int
	autoDetect bool
	driver     string
	esptool    string
	logLevel   string
)

func bindGlobalFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&configPath, "config", "flashops.yaml", "Configuration file")
	f.StringVarP(&portName, "port", "p", "", "Serial device")
	f.IntVarP(&baudRate, "baud", "b", 0, "Baud rate; the fallback rate when auto-detecting")
	f.BoolVar(&autoDetect, "auto-detect", true, "Try the standard rates before --baud")
	f.StringVar(&driver, "driver", "", "Serial driver (bugst, tarm)")
	f.StringVar(&esptool, "esptool", "", "esptool executable")
	f.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

type env struct {
	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
	session  *flashops.Session
}

func setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Serial.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Serial.Baud = baudRate
	}
	if flags.Changed("auto-detect") {
		cfg.Serial.AutoDetect = autoDetect
	}
	if flags.Changed("driver") {
		cfg.Serial.Driver = driver
	}
	if flags.Changed("esptool") {
		cfg.Flash.Esptool = esptool
	}
	if flags.Changed("log-level") {
		cfg.Logger.Level = logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, err
	}

	open, err := flashops.OpenerFor(cfg.Serial.Driver)
	if err != nil {
		closeLog()
		return nil, err
	}

	logs := flashops.NewLogBuffer(cfg.Monitor.Capacity)
	ld := &loader.Esptool{
		Path:      cfg.Flash.Esptool,
		Chip:      cfg.Flash.Chip,
		ExtraArgs: cfg.Flash.ExtraArgs,
		Logger:    log,
		Output: func(line string) {
			logs.Add(flashops.CategoryDeviceOutput, line)
		},
	}

	s := flashops.NewSession(ld,
		flashops.WithBaud(cfg.Serial.Baud),
		flashops.WithAutoDetect(cfg.Serial.AutoDetect),
		flashops.WithCandidates(cfg.Serial.Candidates),
		flashops.WithOpener(open),
		flashops.WithReadTimeout(cfg.Serial.ReadTimeout),
		flashops.WithPartitionTable(cfg.Flash.PartitionOffset, cfg.Flash.PartitionLength),
		flashops.WithLogBuffer(logs),
		flashops.WithLogger(log),
	)

	return &env{cfg: cfg, logger: log, closeLog: closeLog, session: s}, nil
}

func (e *env) close() {
	if e.session.State() != flashops.Idle {
		if err := e.session.Disconnect(); err != nil {
			e.logger.Warn("disconnect", "error", err)
		}
	}
	e.closeLog()
}

func (e *env) connect(ctx context.Context) (*flashops.ConnectResult, error) {
	res, err := e.session.Connect(ctx, e.cfg.Serial.Port)
	if err != nil {
		if flashops.IsOpenFailure(err) {
			return nil, fmt.Errorf("%w (check the device exists and you may access it)", err)
		}
		return nil, err
	}
	return res, nil
}

// follow prints the session's log stream, and records it to record if
// set, until the returned func is called.
func (e *env) follow(record string) (func() error, error) {
	for _, en := range e.session.Logs().Snapshot() {
		fmt.Println(renderEntry(en))
	}

	var g errgroup.Group
	var stops []func()

	entries, stop := e.session.Logs().Subscribe(256)
	stops = append(stops, stop)
	g.Go(func() error {
		for en := range entries {
			fmt.Println(renderEntry(en))
		}
		return nil
	})

	if record != "" {
		f, err := os.Create(record)
		if err != nil {
			stop()
			g.Wait()
			return nil, fmt.Errorf("creating recording: %w", err)
		}

		recorded, stopRec := e.session.Logs().Subscribe(1024)
		stops = append(stops, stopRec)
		rec := &flashops.Recorder{Dest: f}
		g.Go(func() error {
			defer f.Close()
			return rec.Record(recorded)
		})
	}

	return func() error {
		for _, s := range stops {
			s()
		}
		return g.Wait()
	}, nil
}

func listenStop() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx
}
