package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/fleetagent/pkg/agent"
	"github.com/cuemby/fleetagent/pkg/config"
	"github.com/cuemby/fleetagent/pkg/events"
	"github.com/cuemby/fleetagent/pkg/inventory"
	"github.com/cuemby/fleetagent/pkg/log"
	"github.com/cuemby/fleetagent/pkg/task"
	"github.com/cuemby/fleetagent/pkg/tasks/inventorytask"

	_ "github.com/cuemby/fleetagent/pkg/modules"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const defaultConfFile = "/etc/fleetagent/agent.cfg"

func main() {
	// Child probes inherit a sane PATH and a C locale so their output
	// parses identically across distros (spec §6 "Environment").
	if os.Getenv("PATH") == "" {
		os.Setenv("PATH", "/sbin:/usr/sbin:/usr/local/sbin:/bin:/usr/bin:/usr/local/bin")
	}
	os.Setenv("LANG", "C")
	os.Setenv("LC_ALL", "C")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetagent",
	Short: "FleetAgent - inventory and fleet management agent",
	Long: `FleetAgent collects hardware, software and network state from this
host and delivers it to inventory servers, local files, or its own
embedded HTTP endpoint. It runs as a one-shot CLI, a long-lived
daemon, or a service.`,
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	config.RegisterFlags(rootCmd.Flags())

	task.Register(inventorytask.New(inventorytask.Deps{}))
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// Terminal CLI paths print to stdout and exit 0 (spec §6 "exit
	// codes").
	switch {
	case cfg.ShowVersion:
		fmt.Printf("FleetAgent %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
		return nil
	case cfg.ListTasks:
		return listTasks(cfg)
	case cfg.ListCategories:
		return listCategories(cfg)
	case cfg.Setup:
		return printSetup(cfg)
	}

	if err := initLogging(cfg); err != nil {
		return err
	}

	a, err := agent.New(cfg, Version)
	if err != nil {
		return err
	}

	// --set-forcerun only persists the flag for the next start.
	if cfg.SetForcerun {
		fmt.Println("force run flag set for next start")
		return nil
	}

	if cfg.Partial != "" {
		for _, tgt := range a.Targets() {
			tgt.AddEvent(&events.Event{
				Kind:       events.KindPartial,
				Task:       inventorytask.TaskName,
				RunDate:    time.Now(),
				Categories: []string{cfg.Partial},
			}, true)
		}
	}

	if cfg.Daemon && cfg.Pidfile != "" {
		if err := os.WriteFile(cfg.Pidfile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
			log.WithComponent("main").Warn().Err(err).Str("pidfile", cfg.Pidfile).Msg("pidfile write failed")
		}
		defer os.Remove(cfg.Pidfile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return a.Run(ctx)
}

// resolveConfig runs the §4.B layering: defaults, then the file
// backend, then the CLI overlay, then validation.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Defaults()

	// The backend and conf-file flags must be read ahead of the full
	// overlay, since they decide which file feeds the file layer.
	backend, _ := cmd.Flags().GetString("config")
	confFile, _ := cmd.Flags().GetString("conf-file")
	if confFile != "" {
		backend = "file"
	}

	if backend == "file" {
		path := confFile
		if path == "" {
			path = defaultConfFile
		}
		if _, err := os.Stat(path); err == nil {
			if err := config.LoadFile(path, cfg); err != nil {
				return nil, err
			}
		} else if confFile != "" {
			return nil, fmt.Errorf("config: conf-file %s: %w", confFile, err)
		}
	}

	config.ApplyCLI(cfg, cmd.Flags())
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initLogging(cfg *config.Config) error {
	logCfg := log.Config{
		Level:   log.Level(cfg.Debug),
		Console: true,
		Color:   useColor(cfg),
	}
	for _, sink := range cfg.Logger {
		switch sink {
		case "file":
			logCfg.File = &log.FileConfig{Path: cfg.Logfile, MaxSizeMB: cfg.LogfileMaxsize}
		case "syslog":
			logCfg.Syslog = true
		}
	}
	return log.Init(logCfg)
}

// useColor honors --color, defaulting on for an interactive terminal.
func useColor(cfg *config.Config) bool {
	return cfg.Color || isatty.IsTerminal(os.Stdout.Fd())
}

func listTasks(cfg *config.Config) error {
	excluded := make(map[string]bool, len(cfg.NoTask))
	for _, name := range cfg.NoTask {
		excluded[name] = true
	}

	heading := color.New(color.FgCyan, color.Bold)
	if !useColor(cfg) {
		color.NoColor = true
	}
	heading.Println("Available tasks:")
	for _, t := range task.Discover(nil) {
		marker := ""
		if excluded[t.Name()] {
			marker = " (disabled)"
		}
		fmt.Printf("  %s%s\n", t.Name(), marker)
	}
	return nil
}

func listCategories(cfg *config.Config) error {
	heading := color.New(color.FgCyan, color.Bold)
	if !useColor(cfg) {
		color.NoColor = true
	}
	heading.Println("Inventory categories:")
	for _, category := range inventory.Categories() {
		fmt.Printf("  %s\n", category)
	}
	return nil
}

// printSetup is a pure dry-run: report the resolved setup without
// writing anything.
func printSetup(cfg *config.Config) error {
	setup := struct {
		Version    string   `yaml:"version"`
		Vardir     string   `yaml:"vardir"`
		ConfFile   string   `yaml:"conf-file,omitempty"`
		Servers    []string `yaml:"servers,omitempty"`
		Local      []string `yaml:"local,omitempty"`
		HTTPDPort  int      `yaml:"httpd-port"`
		HTTPDOn    bool     `yaml:"httpd-enabled"`
		Daemon     bool     `yaml:"daemon"`
		Itemtype   string   `yaml:"itemtype"`
	}{
		Version:   Version,
		Vardir:    cfg.Vardir,
		ConfFile:  cfg.ConfFile,
		Servers:   cfg.Servers,
		Local:     cfg.Local,
		HTTPDPort: cfg.HTTPDPort,
		HTTPDOn:   !cfg.NoHTTPD,
		Daemon:    cfg.Daemon,
		Itemtype:  cfg.Itemtype,
	}

	out, err := yaml.Marshal(setup)
	if err != nil {
		return err
	}
	os.Stdout.Write(out)
	return nil
}
