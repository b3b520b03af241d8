package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"ftp-http-proxy/binder"
	"ftp-http-proxy/config"
	"ftp-http-proxy/services"
)

// loadEnvYaml reads the configuration file. Without an explicit path it looks
// for env.yaml or env.yml in the working directory. It returns the path it
// loaded.
func loadEnvYaml(explicit string) (*config.EnvConfig, string, error) {
	configFile := explicit
	if configFile == "" {
		// Check which files exist
		yamlExists := fileExists("env.yaml")
		ymlExists := fileExists("env.yml")

		// Error if both files exist
		if yamlExists && ymlExists {
			return nil, "", fmt.Errorf("conflict: both env.yaml and env.yml exist, please use only one of them")
		}

		if yamlExists {
			configFile = "env.yaml"
		} else if ymlExists {
			configFile = "env.yml"
		} else {
			return nil, "", fmt.Errorf("no configuration file found (env.yaml or env.yml)")
		}
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, "", fmt.Errorf("error reading %s: %w", configFile, err)
	}

	var cfg config.EnvConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, "", fmt.Errorf("error parsing %s: %w", configFile, err)
	}

	return &cfg, configFile, nil
}

func fileExists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}

func setupLogger(cfg *config.EnvConfig) {
	levelStr := cfg.GetLogLevel()
	var lvl slog.Level
	switch levelStr {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "INFO":
		lvl = slog.LevelInfo
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(handler)
	slog.SetDefault(logger)
}

// loadConfig applies the configuration sources in order:
// - env.yaml, env.yml or --config
// - .env (if present)
// - environment variables
// - CLI parameters (override everything else)
func loadConfig(cliCfg *config.CLIConfig) (*config.EnvConfig, string, error) {
	cfg, configFile, err := loadEnvYaml(cliCfg.ConfigFile)
	if err != nil {
		// An explicitly named file has to load
		if cliCfg.ConfigFile != "" {
			return nil, "", err
		}
		fmt.Println("Configuration file could not be loaded:", err)
		cfg = &config.EnvConfig{}
	}

	// .env (optional)
	_ = godotenv.Load()

	cfg.SetDefaults()

	// Environment variables override YAML and .env
	if err := cfg.LoadFromEnvironment(); err != nil {
		return nil, "", fmt.Errorf("error loading environment variables: %w", err)
	}

	// CLI parameters (highest priority)
	if err := cliCfg.ApplyToCfg(cfg); err != nil {
		return nil, "", fmt.Errorf("error applying CLI parameters: %w", err)
	}

	return cfg, configFile, nil
}

// dryRun binds the entries against a recorder and prints the calls.
func dryRun(w io.Writer, entries []map[string]any) error {
	rec := binder.NewRecorder()
	rec.Redact = true

	if _, err := binder.New(rec, rec.Factory()).BindAll(entries); err != nil {
		return err
	}
	for _, call := range rec.Calls() {
		if _, err := fmt.Fprintln(w, call); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	// 1. Parse command line arguments
	cliCfg := config.ParseCLI()

	if err := cliCfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error in command line arguments: %v\n", err)
		os.Exit(1)
	}

	// 2. Load configuration
	cfg, configFile, err := loadConfig(cliCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	if cliCfg.DryRun {
		if err := dryRun(os.Stdout, cfg.Proxies); err != nil {
			slog.Error("Invalid proxy configuration", "error", err)
			os.Exit(1)
		}
		return
	}

	// 3. Bind and start the proxies
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runtime := services.NewRuntime(nil)
	if err := runtime.Start(ctx, cfg.Proxies); err != nil {
		slog.Error("Failed to start proxies", "error", err)
		os.Exit(1)
	}

	var healthMonitor *services.HealthMonitor
	if cfg.Health.Port > 0 {
		healthMonitor = services.NewHealthMonitor(runtime, fmt.Sprintf(":%d", cfg.Health.Port))
		if err := healthMonitor.Start(); err != nil {
			slog.Error("Failed to start health server", "error", err)
			runtime.Stop()
			os.Exit(1)
		}
	}

	var configWatcher *services.ConfigWatcher
	if cliCfg.Watch && configFile != "" {
		configWatcher, err = services.NewConfigWatcher(configFile, services.DefaultReloadDelay, func() error {
			newCfg, _, err := loadConfig(cliCfg)
			if err != nil {
				return err
			}
			if err := newCfg.Validate(); err != nil {
				return err
			}
			setupLogger(newCfg)
			return runtime.Reload(newCfg.Proxies)
		})
		if err != nil {
			slog.Error("Failed to create config watcher", "error", err)
		} else {
			go func() {
				if err := configWatcher.Start(); err != nil {
					slog.Error("Config watcher error", "error", err)
				}
			}()
		}
	}

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	slog.Info("Shutdown signal received...")

	if configWatcher != nil {
		configWatcher.Stop()
	}
	if healthMonitor != nil {
		healthMonitor.Stop()
	}
	runtime.Stop()
}
