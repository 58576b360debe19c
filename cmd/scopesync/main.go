// ABOUTME: Entry point for the scopesync host tool
// ABOUTME: Writes config, replays scope mutations through the native bridge, inspects and clears the store

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/scopesync/internal/bridge"
	"github.com/2389/scopesync/internal/config"
	"github.com/2389/scopesync/internal/native"
	"github.com/2389/scopesync/internal/scope"
	"github.com/2389/scopesync/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `

  ___  ___ ___  _ __   ___  ___ _   _ _ __   ___
 / __|/ __/ _ \| '_ \ / _ \/ __| | | | '_ \ / __|
 \__ \ (_| (_) | |_) |  __/\__ \ |_| | | | | (__
 |___/\___\___/| .__/ \___||___/\__, |_| |_|\___|
               |_|              |___/
`

// getConfigPath returns the path to the config file.
// Priority: SCOPESYNC_CONFIG env var > XDG_CONFIG_HOME/scopesync/config.yaml > ~/.config/scopesync/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SCOPESYNC_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "scopesync", "config.yaml")
}

// getDataPath returns the directory holding the scope store.
// Priority: XDG_STATE_HOME/scopesync > ~/.local/state/scopesync
func getDataPath() string {
	dataDir := os.Getenv("XDG_STATE_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "state")
	}

	return filepath.Join(dataDir, "scopesync")
}

func usage() {
	fmt.Println("Usage: scopesync <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init [path]                       Write a default config file")
	fmt.Println("  replay <script.jsonl>             Apply a mutation script to a fresh scope")
	fmt.Println("  inspect [-format text|json|markdown|html]")
	fmt.Println("                                    Print the scope as the crash handler would read it")
	fmt.Println("  clear                             Remove every persisted scope field")
	fmt.Println("  version                           Print version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit(os.Args[2:])
	case "replay":
		err = runReplay(ctx, os.Args[2:])
	case "inspect":
		err = runInspect(ctx, os.Args[2:])
	case "clear":
		err = runClear(ctx)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runInit(args []string) error {
	configPath := getConfigPath()
	if len(args) > 0 {
		configPath = args[0]
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	cfg := config.Default(filepath.Join(getDataPath(), "scope.db"))
	if err := config.Write(configPath, cfg); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Printf("  Store: %s (%s)\n", cfg.Store.Path, cfg.Store.Driver)
	return nil
}

func runReplay(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: scopesync replay <script.jsonl>")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening script: %w", err)
	}
	defer f.Close()

	steps, err := readScript(f)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging, os.Stderr)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:      %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Script:      %s (%d steps)\n", args[0], len(steps))
	green.Print("    ▶ ")
	fmt.Printf("Native sync: ")
	if native.Enabled(cfg) {
		cyan.Printf("%s %s\n", cfg.Store.Driver, cfg.Store.Path)
	} else {
		yellow.Println("off")
	}
	fmt.Println()

	sc := scope.New(
		scope.WithMaxBreadcrumbs(cfg.Scope.BreadcrumbCapacity()),
		scope.WithLogger(logger),
	)

	sync, err := native.Configure(cfg, sc, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sync.Close(); err != nil {
			logger.Error("closing native sync", "error", err)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	applied, err := replay(sc, steps)
	logger.Info("replay finished", "applied", applied, "total", len(steps))
	if err != nil {
		return err
	}

	green.Printf("  ✓ Applied %d steps\n", applied)
	return nil
}

func runInspect(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("inspect", flag.ContinueOnError)
	format := fset.String("format", "text", "output format: text, json, markdown, html")
	if err := fset.Parse(args); err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is not configured")
	}
	if err := requireExisting(cfg.Store.Path); err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening scope store: %w", err)
	}
	defer st.Close()

	report, err := bridge.ReadReport(ctx, st)
	if err != nil {
		return err
	}
	return renderReport(os.Stdout, report, *format)
}

func runClear(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is not configured")
	}
	if err := requireExisting(cfg.Store.Path); err != nil {
		return err
	}

	st, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening scope store: %w", err)
	}
	defer st.Close()

	if err := st.Replace(ctx, nil); err != nil {
		return fmt.Errorf("clearing scope store: %w", err)
	}

	color.New(color.FgGreen).Printf("  ✓ Cleared %s\n", cfg.Store.Path)
	return nil
}

// requireExisting keeps inspect and clear from creating an empty store.
func requireExisting(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("no scope store at %s", path)
	} else if err != nil {
		return fmt.Errorf("checking scope store: %w", err)
	}
	return nil
}
