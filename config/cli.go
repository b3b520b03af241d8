package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"ftp-http-proxy/schema"
)

// CLIConfig holds command line argument configuration
type CLIConfig struct {
	ConfigFile  string
	LogLevel    string
	ProxiesJSON string
	HealthPort  int
	DryRun      bool
	Watch       bool
	ShowHelp    bool
}

// ParseCLI parses command line arguments and returns a CLIConfig
func ParseCLI() *CLIConfig {
	cfg := &CLIConfig{}

	// Define flags
	flag.StringVar(&cfg.ConfigFile, "config", "", "Load configuration from this YAML file")
	flag.StringVar(&cfg.LogLevel, "log-level", "", "Set log level (DEBUG, INFO, WARN, ERROR)")
	flag.StringVar(&cfg.ProxiesJSON, "proxies", "", "Set proxy entries as JSON array")
	flag.IntVar(&cfg.HealthPort, "health-port", 0, "Serve health endpoints on this port")
	flag.BoolVar(&cfg.DryRun, "dry-run", false, "Print the bind calls and exit")
	flag.BoolVar(&cfg.Watch, "watch", false, "Reload when the configuration file changes")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help message")

	// Also handle short forms and alternative help flags
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help message")

	// Custom usage function
	flag.Usage = printUsage

	// Check for help flags before parsing
	for _, arg := range os.Args[1:] {
		if arg == "-h" || arg == "--help" {
			cfg.ShowHelp = true
			printUsage()
			os.Exit(0)
		}
	}

	// Parse flags
	flag.Parse()

	return cfg
}

// ApplyToCfg applies CLI configuration to EnvConfig
func (cli *CLIConfig) ApplyToCfg(cfg *EnvConfig) error {
	// Apply log level
	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}

	// Apply health port
	if cli.HealthPort != 0 {
		cfg.Health.Port = cli.HealthPort
	}

	// Apply proxies JSON
	if cli.ProxiesJSON != "" {
		entries, err := ParseProxies(cli.ProxiesJSON)
		if err != nil {
			return fmt.Errorf("error parsing --proxies: %w", err)
		}
		cfg.Proxies = entries
	}

	return nil
}

// printUsage prints the usage information
func printUsage() {
	_, err := fmt.Fprintf(os.Stderr, `FTP HTTP Proxy - serves files from FTP/SFTP servers over HTTP

USAGE:
    %s [OPTIONS]

OPTIONS:
    --config FILE        Load configuration from FILE
                        Default: env.yaml or env.yml in the working directory

    --log-level LEVEL    Set log level (DEBUG, INFO, WARN, ERROR)
                        Default: INFO

    --proxies JSON       Set proxy entries as JSON array
                        Format: [{"server":"ftp.example.com","username":"user",
                                  "password":"pass","remote_paths":["/pub"],
                                  "local_port":8000}]
                        Optional keys: id, protocol (ftp, sftp), remote_port,
                        timeout, cache ({"type":"filesystem","path":"./cache"})

    --health-port PORT   Serve /health, /health/live and /health/ready on PORT
                        Default: disabled

    --dry-run            Validate and print the bind calls without starting

    --watch              Reload the proxies when the configuration file changes

    -h, --help           Show this help message

EXAMPLES:
    # One proxy on port 8000
    %s --proxies '[{"server":"ftp.example.com","username":"anonymous","password":"","remote_paths":["/pub"]}]'

    # Check a configuration file without starting anything
    %s --config proxies.yaml --dry-run

    # Debug mode with hot reload
    %s --log-level DEBUG --watch

CONFIGURATION PRIORITY:
    1. Command line arguments (highest)
    2. Environment variables
    3. .env file
    4. env.yaml/env.yml file
    5. Default values (lowest)

ENVIRONMENT VARIABLES:
    LOG_LEVEL            Same as --log-level
    HEALTH_PORT          Same as --health-port
    PROXY_1_SERVER       First proxy FTP server
    PROXY_1_REMOTE_PATHS First proxy remote paths, comma separated
    ...                  Additional PROXY_X_* variables
    PROXIES              JSON or YAML array of proxy entries

`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	if err != nil {
		return
	}
}

// HasProxiesConfigured checks if proxies are configured via CLI
func (cli *CLIConfig) HasProxiesConfigured() bool {
	return cli.ProxiesJSON != ""
}

// Validate validates CLI configuration
func (cli *CLIConfig) Validate() error {
	// Validate log level if provided
	if cli.LogLevel != "" {
		level := strings.ToUpper(cli.LogLevel)
		if level != "DEBUG" && level != "INFO" && level != "WARN" && level != "ERROR" {
			return fmt.Errorf("invalid log level: %s (allowed: DEBUG, INFO, WARN, ERROR)", cli.LogLevel)
		}
	}

	if cli.HealthPort < 0 || cli.HealthPort > 65535 {
		return fmt.Errorf("invalid health port: %d", cli.HealthPort)
	}

	if cli.Watch && cli.ConfigFile == "" {
		if _, err := os.Stat("env.yaml"); err != nil {
			if _, err := os.Stat("env.yml"); err != nil {
				return fmt.Errorf("--watch needs a configuration file")
			}
		}
	}

	// Validate proxies JSON if provided
	if cli.ProxiesJSON != "" {
		entries, err := ParseProxies(cli.ProxiesJSON)
		if err != nil {
			return fmt.Errorf("invalid --proxies format: %w", err)
		}
		if len(entries) == 0 {
			return fmt.Errorf("--proxies must contain at least one entry")
		}
		for i, entry := range entries {
			if _, err := schema.Validate(entry); err != nil {
				return fmt.Errorf("proxy entry %d: %w", i+1, err)
			}
		}
	}

	return nil
}
