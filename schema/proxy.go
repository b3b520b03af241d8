package schema

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mitchellh/mapstructure"
)

const (
	KeyID          = "id"
	KeyServer      = "server"
	KeyUsername    = "username"
	KeyPassword    = "password"
	KeyRemotePaths = "remote_paths"
	KeyLocalPort   = "local_port"
	KeyProtocol    = "protocol"
	KeyRemotePort  = "remote_port"
	KeyTimeout     = "timeout"
	KeyCache       = "cache"

	DefaultLocalPort = 8000
	DefaultTimeout   = 30 * time.Second

	ProtocolFTP  = "ftp"
	ProtocolSFTP = "sftp"

	CacheFilesystem = "filesystem"
	CacheS3         = "s3"
	CacheRedis      = "redis"
)

// CacheSchema declares the keys of the cache section.
func CacheSchema() *Schema {
	return New(
		OneOf("type", CacheFilesystem, CacheFilesystem, CacheS3, CacheRedis),
		Optional("path", KindString, "./cache"),
		Optional("endpoint", KindString, nil),
		Optional("access_key", KindString, nil),
		Optional("secret_key", KindString, nil),
		Optional("ssl", KindBool, true),
		Optional("region", KindString, nil),
		Optional("bucket", KindString, "ftp-http-proxy"),
		Optional("address", KindString, nil),
		Optional("password", KindString, nil),
		Optional("db", KindUint, nil),
		Optional("ttl", KindDuration, time.Hour),
	)
}

// ProxySchema declares the keys of one FTP-HTTP proxy entry.
func ProxySchema() *Schema {
	return New(
		Required(KeyServer, KindString),
		Required(KeyUsername, KindString),
		Required(KeyPassword, KindString),
		Required(KeyRemotePaths, KindStringList),
		Optional(KeyLocalPort, KindPort, DefaultLocalPort),
		Optional(KeyID, KindString, nil),
		OneOf(KeyProtocol, ProtocolFTP, ProtocolFTP, ProtocolSFTP),
		Optional(KeyRemotePort, KindPort, nil),
		Optional(KeyTimeout, KindDuration, DefaultTimeout),
		Section(KeyCache, CacheSchema()),
	)
}

var proxySchema = ProxySchema()

// CacheConfig is the validated cache section.
type CacheConfig struct {
	Type      string        `mapstructure:"type"`
	Path      string        `mapstructure:"path"`
	Endpoint  string        `mapstructure:"endpoint"`
	AccessKey string        `mapstructure:"access_key"`
	SecretKey string        `mapstructure:"secret_key"`
	SSL       bool          `mapstructure:"ssl"`
	Region    string        `mapstructure:"region"`
	Bucket    string        `mapstructure:"bucket"`
	Address   string        `mapstructure:"address"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// Config is a validated proxy entry. RemotePaths keeps the configured order.
type Config struct {
	ID          string        `mapstructure:"id"`
	Server      string        `mapstructure:"server"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	RemotePaths []string      `mapstructure:"remote_paths"`
	LocalPort   uint16        `mapstructure:"local_port"`
	Protocol    string        `mapstructure:"protocol"`
	RemotePort  uint16        `mapstructure:"remote_port"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Cache       CacheConfig   `mapstructure:"cache"`
}

// Validate checks raw against the proxy schema and returns the typed entry.
// It has no side effects.
func Validate(raw map[string]any) (*Config, error) {
	values, err := proxySchema.Apply(raw)
	if err != nil {
		return nil, err
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &cfg,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(values); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// LogValue keeps credentials out of the logs.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", c.ID),
		slog.String("server", c.Server),
		slog.String("username", c.Username),
		slog.Any("remote_paths", c.RemotePaths),
		slog.Int("local_port", int(c.LocalPort)),
		slog.String("protocol", c.Protocol),
		slog.String("cache", c.Cache.Type),
	)
}
