package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cboxdk/dbpool-manager/internal/app"
	"github.com/cboxdk/dbpool-manager/internal/config"
	"github.com/cboxdk/dbpool-manager/internal/driver"
)

const Version = "1.0.0-dev"

// CLI represents the command line interface
type CLI struct {
	args []string
}

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Usage       string
	Run         func(args []string) error
}

func main() {
	cli := &CLI{args: os.Args[1:]}

	commands := map[string]*Command{
		"run":            {Name: "run", Description: "Start the database pool manager", Usage: "run [--config path] [--log-level level]", Run: cli.runCommand},
		"validate":       {Name: "validate", Description: "Validate configuration file", Usage: "validate [--config path]", Run: cli.validateCommand},
		"version":        {Name: "version", Description: "Show version information", Usage: "version", Run: cli.versionCommand},
		"help":           {Name: "help", Description: "Show help information", Usage: "help [command]", Run: cli.helpCommand},
		"example-config": {Name: "example-config", Description: "Generate example configuration file", Usage: "example-config [--output path]", Run: cli.exampleConfigCommand},
	}

	if len(cli.args) == 0 {
		cli.printUsage(commands)
		os.Exit(1)
	}

	commandName := cli.args[0]

	if commandName == "--help" || commandName == "-h" {
		cli.printUsage(commands)
		return
	}

	// Default to run when the first argument is a flag.
	if _, exists := commands[commandName]; !exists {
		if strings.HasPrefix(commandName, "--") {
			commandName = "run"
		} else {
			fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", commandName)
			cli.printUsage(commands)
			os.Exit(1)
		}
	} else {
		cli.args = cli.args[1:]
	}

	cmd := commands[commandName]
	if err := cmd.Run(cli.args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func (cli *CLI) printUsage(commands map[string]*Command) {
	fmt.Printf("Database Pool Manager v%s\n", Version)
	fmt.Println("An adaptive database connection pool manager with dynamic sizing, health supervision and load testing.")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Printf("  %s <command> [options]\n", os.Args[0])
	fmt.Println()
	fmt.Println("COMMANDS:")

	commandOrder := []string{"run", "validate", "example-config", "version", "help"}
	for _, name := range commandOrder {
		if cmd, exists := commands[name]; exists {
			fmt.Printf("  %-15s %s\n", cmd.Name, cmd.Description)
		}
	}

	fmt.Println()
	fmt.Println("GLOBAL OPTIONS:")
	fmt.Println("  --help, -h       Show help information")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Printf("  %s run --config /etc/dbpool-manager/config.yaml\n", os.Args[0])
	fmt.Printf("  %s validate --config ./config.yaml\n", os.Args[0])
	fmt.Printf("  %s example-config --output ./dbpool-manager.yaml\n", os.Args[0])
}

func (cli *CLI) parseFlags(args []string, flags map[string]*string) []string {
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "--") {
			flagName := strings.TrimPrefix(arg, "--")

			if strings.Contains(flagName, "=") {
				parts := strings.SplitN(flagName, "=", 2)
				flagName = parts[0]
				if flagVar, exists := flags[flagName]; exists {
					*flagVar = parts[1]
				}
				continue
			}

			if flagVar, exists := flags[flagName]; exists {
				if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
					*flagVar = args[i+1]
					i++
				} else {
					*flagVar = "true"
				}
				continue
			}
		}

		remaining = append(remaining, arg)
	}

	return remaining
}

func (cli *CLI) runCommand(args []string) error {
	var configPath string
	var logLevel = "info"
	var driverName = "sqlite3"

	flags := map[string]*string{
		"config":    &configPath,
		"log-level": &logLevel,
		"driver":    &driverName,
	}

	remaining := cli.parseFlags(args, flags)
	for _, arg := range remaining {
		if arg == "--help" || arg == "-h" {
			cli.printRunHelp()
			return nil
		}
	}

	logger, err := cli.createLogger(logLevel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	var cfg *config.Config
	if configPath == "" {
		logger.Info("Running in zero-config mode with defaults")
		cfg, err = config.LoadDefault()
		if err != nil {
			return fmt.Errorf("failed to load default configuration: %w", err)
		}
	} else {
		if err := cli.validateConfigPath(configPath); err != nil {
			return err
		}
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
	}

	manager, err := app.NewManager(cfg, driver.NewSQLDriver(driverName), Version, logger)
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down gracefully",
			zap.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("Starting Database Pool Manager",
		zap.String("version", Version),
		zap.Int("pools_configured", len(cfg.Pools)),
		zap.String("driver", driverName),
		zap.String("server_address", cfg.Server.BindAddress))

	if err := manager.Run(ctx); err != nil {
		return fmt.Errorf("manager stopped with error: %w", err)
	}
	return nil
}

func (cli *CLI) validateCommand(args []string) error {
	var configPath string

	flags := map[string]*string{
		"config": &configPath,
	}

	remaining := cli.parseFlags(args, flags)
	for _, arg := range remaining {
		if arg == "--help" || arg == "-h" {
			cli.printValidateHelp()
			return nil
		}
	}

	var cfg *config.Config
	var err error
	if configPath == "" {
		fmt.Println("Validating zero-config mode with defaults")
		cfg, err = config.LoadDefault()
	} else {
		if err := cli.validateConfigPath(configPath); err != nil {
			return err
		}
		fmt.Printf("Validating configuration file: %s\n", configPath)
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	cli.printConfigurationSummary(cfg)
	fmt.Println("\nConfiguration is valid.")
	return nil
}

func (cli *CLI) printConfigurationSummary(cfg *config.Config) {
	fmt.Println("\nCONFIGURATION SUMMARY:")
	fmt.Printf("Server:\n")
	fmt.Printf("   Bind Address: %s\n", cfg.Server.BindAddress)
	fmt.Printf("   Metrics Path: %s\n", cfg.Server.MetricsPath)
	fmt.Printf("   Health Path: %s\n", cfg.Server.HealthPath)

	fmt.Printf("\nStorage:\n")
	fmt.Printf("   Database: %s\n", cfg.Storage.DatabasePath)
	fmt.Printf("   Sample Interval: %s\n", cfg.Storage.SampleInterval)
	fmt.Printf("   Retention: %s\n", cfg.Storage.Retention)

	fmt.Printf("\nPools (%d configured):\n", len(cfg.Pools))
	for _, pool := range cfg.Pools {
		fmt.Printf("   Pool '%s':\n", pool.Name)
		fmt.Printf("      Connections: min=%d max=%d (hard ceiling %d)\n",
			pool.MinConnections, pool.MaxConnections, pool.HardCeiling)
		fmt.Printf("      Acquire Timeout: %s\n", pool.AcquireTimeout)
		fmt.Printf("      Statement Cache: %d per connection\n", pool.StatementCacheCapacity)
		fmt.Printf("      Health Check: every %s (%d failures retire)\n",
			pool.HealthCheckInterval, pool.MaxFailedHealthChecks)
		fmt.Printf("      Scaling: thresholds %.0f%%/%.0f%%, factors %.2f/%.2f, min interval %s\n",
			pool.LoadThresholdHigh*100, pool.LoadThresholdLow*100,
			pool.ScaleUpFactor, pool.ScaleDownFactor, pool.MinScaleInterval)
	}

	if cfg.Telemetry.Enabled {
		fmt.Printf("\nTelemetry: enabled (%s exporter, %.1f%% sampling)\n",
			cfg.Telemetry.Exporter.Type, cfg.Telemetry.SamplingRate*100)
	} else {
		fmt.Printf("\nTelemetry: disabled\n")
	}
}

func (cli *CLI) versionCommand(args []string) error {
	fmt.Printf("Database Pool Manager version %s\n", Version)
	fmt.Println("Built with Go")
	fmt.Println("https://github.com/cboxdk/dbpool-manager")
	return nil
}

func (cli *CLI) helpCommand(args []string) error {
	commands := map[string]*Command{
		"run":            {Name: "run", Description: "Start the database pool manager", Usage: "run [--config path] [--log-level level]", Run: cli.runCommand},
		"validate":       {Name: "validate", Description: "Validate configuration file", Usage: "validate [--config path]", Run: cli.validateCommand},
		"version":        {Name: "version", Description: "Show version information", Usage: "version", Run: cli.versionCommand},
		"help":           {Name: "help", Description: "Show help information", Usage: "help [command]", Run: cli.helpCommand},
		"example-config": {Name: "example-config", Description: "Generate example configuration file", Usage: "example-config [--output path]", Run: cli.exampleConfigCommand},
	}

	if len(args) == 0 {
		cli.printUsage(commands)
		return nil
	}

	switch args[0] {
	case "run":
		cli.printRunHelp()
	case "validate":
		cli.printValidateHelp()
	case "example-config":
		cli.printExampleConfigHelp()
	case "version":
		fmt.Println("USAGE: dbpool-manager version")
		fmt.Println("Show version information and build details.")
	default:
		fmt.Printf("Unknown command: %s\n\n", args[0])
		cli.printUsage(commands)
	}
	return nil
}

func (cli *CLI) exampleConfigCommand(args []string) error {
	var outputPath = "dbpool-manager.yaml"

	flags := map[string]*string{
		"output": &outputPath,
	}

	remaining := cli.parseFlags(args, flags)
	for _, arg := range remaining {
		if arg == "--help" || arg == "-h" {
			cli.printExampleConfigHelp()
			return nil
		}
	}

	if _, err := os.Stat(outputPath); err == nil {
		return fmt.Errorf("file already exists: %s (use a different path or remove the existing file)", outputPath)
	}

	if err := os.WriteFile(outputPath, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("Example configuration written to: %s\n", outputPath)
	fmt.Println("Edit the file to match your environment and use:")
	fmt.Printf("  dbpool-manager validate --config %s\n", outputPath)
	return nil
}

func (cli *CLI) validateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path cannot be empty")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", path)
	}
	return nil
}

func (cli *CLI) createLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", level)
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	return config.Build()
}

func (cli *CLI) printRunHelp() {
	fmt.Println("USAGE: dbpool-manager run [options]")
	fmt.Println("Start the database pool manager with dynamic sizing and health supervision.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  --config path      Configuration file path (default: zero-config mode)")
	fmt.Println("  --log-level level  Log level: debug, info, warn, error (default: info)")
	fmt.Println("  --driver name      Registered database/sql driver name (default: sqlite3)")
	fmt.Println("  --help, -h         Show this help message")
	fmt.Println()
	fmt.Println("SIGNALS:")
	fmt.Println("  SIGINT/SIGTERM    Graceful shutdown")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  dbpool-manager run")
	fmt.Println("  dbpool-manager run --config /etc/dbpool-manager/config.yaml")
	fmt.Println("  dbpool-manager run --log-level debug")
}

func (cli *CLI) printValidateHelp() {
	fmt.Println("USAGE: dbpool-manager validate [options]")
	fmt.Println("Validate configuration file without starting the service.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  --config path  Configuration file path (default: zero-config mode)")
	fmt.Println("  --help, -h     Show this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  dbpool-manager validate")
	fmt.Println("  dbpool-manager validate --config ./config.yaml")
}

func (cli *CLI) printExampleConfigHelp() {
	fmt.Println("USAGE: dbpool-manager example-config [options]")
	fmt.Println("Generate an example configuration file.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  --output path  Output file path (default: dbpool-manager.yaml)")
	fmt.Println("  --help, -h     Show this help message")
}

const exampleConfig = `# Database Pool Manager configuration
server:
  bind_address: "127.0.0.1:9190"
  metrics_path: "/metrics"
  health_path: "/health"

storage:
  database_path: "/var/lib/dbpool-manager/samples.db"
  sample_interval: 30s
  retention: 168h

pools:
  - name: "primary"
    connection_string: "/var/lib/app/primary.db"
    min_connections: 5
    max_connections: 20
    hard_ceiling: 200
    acquire_timeout: 30s
    idle_timeout: 10m
    max_lifetime: 1h
    statement_cache_capacity: 256
    recycle_threshold_queries: 10000
    validation_query: "SELECT 1"
    health_check_interval: 30s
    health_check_timeout: 5s
    max_failed_health_checks: 3
    load_threshold_high: 0.8
    load_threshold_low: 0.3
    scale_up_factor: 1.2
    scale_down_factor: 0.9
    min_scale_interval: 60s
    scale_eval_interval: 30s
    # warmup_statements:
    #   - "PRAGMA journal_mode=WAL"

logging:
  level: "info"
  format: "json"

telemetry:
  enabled: false
  service_name: "dbpool-manager"
  service_version: "1.0.0"
  environment: "production"
  sampling_rate: 0.1
  exporter:
    type: "stdout"
`
