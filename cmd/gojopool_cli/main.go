package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/chzyer/readline"
	"github.com/sushant-115/gojopool/config"
	buffermanager "github.com/sushant-115/gojopool/core/write_engine/buffer_manager"
	internaltelemetry "github.com/sushant-115/gojopool/internal/telemetry"
	"github.com/sushant-115/gojopool/pkg/logger"
	"github.com/sushant-115/gojopool/pkg/telemetry"
	"go.uber.org/zap"
)

// CLI holds the command-line flags. Flags override the config file.
type CLI struct {
	Config  string `help:"Path to a YAML config file." type:"path" short:"c"`
	Frames  int    `help:"Number of buffer pool frames (overrides pool.frames)."`
	DataDir string `help:"Directory holding database files (overrides storage.data_dir)." type:"path"`
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("gojopool_cli"),
		kong.Description("Interactive shell over a clock buffer pool."),
		kong.UsageOnError(),
	)
	if err := run(cli); err != nil {
		fmt.Fprintf(os.Stderr, "gojopool_cli: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cli CLI) (config.Config, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return config.Config{}, err
	}
	if cli.Frames != 0 {
		cfg.Pool.Frames = cli.Frames
	}
	if cli.DataDir != "" {
		cfg.Storage.DataDir = cli.DataDir
	}
	return cfg, cfg.Validate()
}

func run(cli CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer log.Sync()

	tel, shutdown, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	metrics, err := internaltelemetry.NewBufferPoolMetrics(tel.Meter)
	if err != nil {
		return fmt.Errorf("creating buffer pool metrics: %w", err)
	}

	var indexOpts []buffermanager.HashTableOption
	if cfg.Pool.MaxIndexEntries > 0 {
		indexOpts = append(indexOpts, buffermanager.WithMaxEntries(cfg.Pool.MaxIndexEntries))
	}
	bpm, err := buffermanager.NewBufferPoolManager(cfg.Pool.Frames,
		buffermanager.WithLogger(log),
		buffermanager.WithMetrics(metrics),
		buffermanager.WithPageIndex(buffermanager.NewHashTable(buffermanager.HashTableSize(cfg.Pool.Frames), indexOpts...)),
	)
	if err != nil {
		return err
	}

	shell := NewShell(bpm, cfg.Storage.DataDir, log, tel.Tracer)
	defer func() {
		if err := shell.Close(); err != nil {
			log.Error("Error closing buffer pool", zap.Error(err))
		}
	}()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gojopool> ",
		HistoryFile:     filepath.Join(os.TempDir(), "gojopool_cli_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("starting line editor: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(rl.Stdout(), "gojopool: %d frames, data in %s. Type help for commands.\n", cfg.Pool.Frames, cfg.Storage.DataDir)
	ctx := context.Background()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := shell.Exec(ctx, line, rl.Stdout()); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(rl.Stderr(), "error: %v\n", err)
		}
	}
}
