package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoProxies is returned by Validate when no proxy entry is configured.
var ErrNoProxies = errors.New("no ftp_http_proxy entries configured")

// EnvConfig is the process configuration. Proxy entries stay raw maps here;
// they are checked against the proxy schema when they are bound.
type EnvConfig struct {
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Health struct {
		Port int `yaml:"port"` // 0 disables the health server
	} `yaml:"health"`
	Proxies []map[string]any `yaml:"ftp_http_proxy"`
}

// proxyEnvKeys maps the PROXY_<n>_<SUFFIX> suffixes onto entry keys.
var proxyEnvKeys = map[string]string{
	"ID":          "id",
	"SERVER":      "server",
	"USERNAME":    "username",
	"PASSWORD":    "password",
	"LOCAL_PORT":  "local_port",
	"PROTOCOL":    "protocol",
	"REMOTE_PORT": "remote_port",
	"TIMEOUT":     "timeout",
}

// proxyCacheEnvKeys maps PROXY_<n>_CACHE_<SUFFIX> onto keys of the cache section.
var proxyCacheEnvKeys = map[string]string{
	"TYPE":       "type",
	"PATH":       "path",
	"ENDPOINT":   "endpoint",
	"ACCESS_KEY": "access_key",
	"SECRET_KEY": "secret_key",
	"SSL":        "ssl",
	"REGION":     "region",
	"BUCKET":     "bucket",
	"ADDRESS":    "address",
	"PASSWORD":   "password",
	"DB":         "db",
	"TTL":        "ttl",
}

// LoadFromEnvironment loads the configuration from environment variables
func (c *EnvConfig) LoadFromEnvironment() error {
	// Log Level - support different formats
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	} else if logLevel := os.Getenv("log.level"); logLevel != "" {
		c.Log.Level = logLevel
	}

	// Health port
	if port := os.Getenv("HEALTH_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid HEALTH_PORT %q: %w", port, err)
		}
		c.Health.Port = val
	}

	// Proxy entries - flat structure
	c.loadProxiesFromEnv()

	// Proxy entries - JSON/YAML structure as fallback
	if len(c.Proxies) == 0 {
		if proxiesStr := os.Getenv("PROXIES"); proxiesStr != "" {
			entries, err := ParseProxies(proxiesStr)
			if err != nil {
				return fmt.Errorf("invalid PROXIES: %w", err)
			}
			c.Proxies = entries
		}
	}

	return nil
}

// ParseProxies decodes a list of proxy entries from JSON, or from YAML if
// the input is not valid JSON.
func ParseProxies(s string) ([]map[string]any, error) {
	var entries []map[string]any
	jsonErr := json.Unmarshal([]byte(s), &entries)
	if jsonErr == nil {
		return entries, nil
	}
	entries = nil
	if err := yaml.Unmarshal([]byte(s), &entries); err != nil {
		return nil, fmt.Errorf("neither JSON (%v) nor YAML (%v)", jsonErr, err)
	}
	return entries, nil
}

// loadProxiesFromEnv collects PROXY_<n>_* variables into entries ordered by n.
func (c *EnvConfig) loadProxiesFromEnv() {
	entries := make(map[int]map[string]any)

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "PROXY_") {
			continue
		}
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}

		// Extract index (e.g. '1' from 'PROXY_1_SERVER')
		indexStr, suffix, ok := strings.Cut(strings.TrimPrefix(key, "PROXY_"), "_")
		if !ok {
			continue
		}
		index, err := strconv.Atoi(indexStr)
		if err != nil {
			continue
		}

		entry := entries[index]
		if entry == nil {
			entry = make(map[string]any)
		}
		if setProxyEnvValue(entry, suffix, value) {
			entries[index] = entry
		}
	}

	if len(entries) == 0 {
		return
	}

	indexes := make([]int, 0, len(entries))
	for index := range entries {
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)

	proxies := make([]map[string]any, 0, len(indexes))
	for _, index := range indexes {
		proxies = append(proxies, entries[index])
	}
	c.Proxies = proxies
}

// setProxyEnvValue stores one PROXY_<n>_<suffix> value and reports whether
// the suffix was recognized.
func setProxyEnvValue(entry map[string]any, suffix, value string) bool {
	if suffix == "REMOTE_PATHS" {
		var paths []any
		for _, p := range strings.Split(value, ",") {
			paths = append(paths, strings.TrimSpace(p))
		}
		entry["remote_paths"] = paths
		return true
	}

	if name, ok := proxyEnvKeys[suffix]; ok {
		entry[name] = value
		return true
	}

	if cacheSuffix, ok := strings.CutPrefix(suffix, "CACHE_"); ok {
		name, ok := proxyCacheEnvKeys[cacheSuffix]
		if !ok {
			return false
		}
		cache, _ := entry["cache"].(map[string]any)
		if cache == nil {
			cache = make(map[string]any)
			entry["cache"] = cache
		}
		if name == "ssl" {
			cache[name] = strings.ToLower(value) == "true"
		} else {
			cache[name] = value
		}
		return true
	}

	return false
}

// SetDefaults sets the default values for the configuration
func (c *EnvConfig) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}
}

// Validate checks the configuration for completeness. The proxy entries
// themselves are validated when they are bound.
func (c *EnvConfig) Validate() error {
	if c.Health.Port < 0 || c.Health.Port > 65535 {
		return fmt.Errorf("invalid health port: %d", c.Health.Port)
	}

	// Check that at least one proxy is configured.
	if len(c.Proxies) == 0 {
		return ErrNoProxies
	}

	return nil
}

// GetLogLevel returns the configured log level.
func (c *EnvConfig) GetLogLevel() string {
	level := strings.ToUpper(c.Log.Level)
	switch level {
	case "DEBUG", "INFO", "WARN", "ERROR":
		return level
	default:
		return "INFO"
	}
}
