package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds parsed command-line flags
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config", "",
		"Path to JSON configuration file (optional, env overrides apply)")
	flag.StringVar(&cfg.ConfigPath, "c", "",
		"Path to JSON configuration file (shorthand)")
	flag.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides config)")
	flag.StringVar(&cfg.LogFormat, "log-format", "json",
		"Log format: json or text")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 15*time.Second,
		"Grace period for draining on shutdown")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printHelp
	flag.Parse()
	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format: %s", cfg.LogFormat)
	}
	return nil
}

func printHelp() {
	fmt.Printf("%s version %s\n\n", appName, Version)
	fmt.Println("Messaging middleware worker: routing dispatcher and SMPP-style transport.")
	fmt.Println("\nUsage:")
	fmt.Printf("  %s [flags]\n\n", appName)
	fmt.Println("Flags:")
	flag.PrintDefaults()
	fmt.Println("\nEnvironment overrides use the VUMIGO_ prefix, for example VUMIGO_WORKER_ROLE.")
}
