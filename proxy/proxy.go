// Package proxy implements the FTP-HTTP proxy component: an HTTP server that
// serves files fetched on demand from an FTP or SFTP server.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcuadros/go-defaults"

	"ftp-http-proxy/storage"
)

var (
	ErrAlreadyStarted = errors.New("proxy already started")
	ErrEmptyValue     = errors.New("value must not be empty")
	ErrInvalidPort    = errors.New("port must be between 1 and 65535")
)

// newStore builds the cache when Options.Store is nil.
var newStore = storage.New

const (
	defaultFTPPort  = 21
	defaultSFTPPort = 22
)

// Options are fixed when the instance is created.
type Options struct {
	Protocol   string        `default:"ftp"`
	RemotePort uint16        // 0 selects the protocol's well-known port
	Timeout    time.Duration `default:"30s"`
	Cache      storage.Config
	S3Clients  *storage.S3ClientManager

	// ListenAddr overrides ":<local_port>".
	ListenAddr string
	// ShutdownTimeout bounds the graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration `default:"5s"`
	// TempDir holds downloads in flight; empty means os.TempDir.
	TempDir string

	// Fetcher and Store replace the ones built from the options above.
	Fetcher Fetcher
	Store   storage.Store
}

// Stats are the request counters of one proxy.
type Stats struct {
	Requests  uint64 `json:"requests"` // every request, rejected ones included
	CacheHits uint64 `json:"cache_hits"`
	Fetches   uint64 `json:"fetches"`
	NotFound  uint64 `json:"not_found"`
	Failures  uint64 `json:"failures"`
}

// FTPHTTPProxy is configured through its setters between creation and Setup.
type FTPHTTPProxy struct {
	id   string
	opts Options

	mu          sync.RWMutex
	ftpServer   string
	username    string
	password    string
	remotePaths []string
	localPort   uint16
	started     bool

	fetcher  Fetcher
	store    storage.Store
	listener net.Listener
	server   *http.Server

	requests  atomic.Uint64
	cacheHits atomic.Uint64
	fetches   atomic.Uint64
	notFound  atomic.Uint64
	failures  atomic.Uint64
}

// New creates an unconfigured proxy bound to id.
func New(id string, opts Options) (*FTPHTTPProxy, error) {
	if id == "" {
		return nil, fmt.Errorf("proxy id: %w", ErrEmptyValue)
	}
	defaults.SetDefaults(&opts)

	return &FTPHTTPProxy{
		id:        id,
		opts:      opts,
		localPort: 8000,
	}, nil
}

func (p *FTPHTTPProxy) ID() string {
	return p.id
}

func (p *FTPHTTPProxy) LogValue() slog.Value {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slog.GroupValue(
		slog.String("id", p.id),
		slog.String("server", p.ftpServer),
		slog.String("username", p.username),
		slog.Any("remote_paths", p.remotePaths),
		slog.Int("local_port", int(p.localPort)),
		slog.String("protocol", p.opts.Protocol),
	)
}

func (p *FTPHTTPProxy) set(apply func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	apply()
	return nil
}

func (p *FTPHTTPProxy) SetFTPServer(server string) error {
	if server == "" {
		return fmt.Errorf("ftp server: %w", ErrEmptyValue)
	}
	return p.set(func() { p.ftpServer = server })
}

func (p *FTPHTTPProxy) SetUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username: %w", ErrEmptyValue)
	}
	return p.set(func() { p.username = username })
}

// SetPassword accepts an empty password; anonymous FTP logins use one.
func (p *FTPHTTPProxy) SetPassword(password string) error {
	return p.set(func() { p.password = password })
}

func (p *FTPHTTPProxy) SetLocalPort(port uint16) error {
	if port == 0 {
		return ErrInvalidPort
	}
	return p.set(func() { p.localPort = port })
}

// AddRemotePath appends a lookup directory. Earlier paths take priority.
func (p *FTPHTTPProxy) AddRemotePath(remotePath string) error {
	if remotePath == "" {
		return fmt.Errorf("remote path: %w", ErrEmptyValue)
	}
	return p.set(func() { p.remotePaths = append(p.remotePaths, remotePath) })
}

func (p *FTPHTTPProxy) RemotePaths() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.remotePaths))
	copy(out, p.remotePaths)
	return out
}

func (p *FTPHTTPProxy) LocalPort() uint16 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.localPort
}

// Addr is the address the HTTP server listens on, empty before Setup.
func (p *FTPHTTPProxy) Addr() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

func (p *FTPHTTPProxy) Stats() Stats {
	return Stats{
		Requests:  p.requests.Load(),
		CacheHits: p.cacheHits.Load(),
		Fetches:   p.fetches.Load(),
		NotFound:  p.notFound.Load(),
		Failures:  p.failures.Load(),
	}
}

func (p *FTPHTTPProxy) newFetcher() (Fetcher, error) {
	creds := Credentials{Username: p.username, Password: p.password}
	switch p.opts.Protocol {
	case "ftp":
		addr, err := remoteAddress(p.ftpServer, p.opts.RemotePort, defaultFTPPort)
		if err != nil {
			return nil, err
		}
		return &FTPFetcher{Addr: addr, Credentials: creds, Timeout: p.opts.Timeout}, nil
	case "sftp":
		addr, err := remoteAddress(p.ftpServer, p.opts.RemotePort, defaultSFTPPort)
		if err != nil {
			return nil, err
		}
		return &SFTPFetcher{Addr: addr, Credentials: creds, Timeout: p.opts.Timeout}, nil
	default:
		return nil, fmt.Errorf("unknown protocol: %s", p.opts.Protocol)
	}
}

// Setup freezes the configuration, prepares the fetcher and cache and opens
// the listening socket.
func (p *FTPHTTPProxy) Setup(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	if p.ftpServer == "" {
		return fmt.Errorf("ftp server: %w", ErrEmptyValue)
	}
	if len(p.remotePaths) == 0 {
		return fmt.Errorf("remote paths: %w", ErrEmptyValue)
	}

	p.fetcher = p.opts.Fetcher
	if p.fetcher == nil {
		fetcher, err := p.newFetcher()
		if err != nil {
			return err
		}
		p.fetcher = fetcher
	}

	p.store = p.opts.Store
	if p.store == nil {
		store, err := newStore(ctx, p.opts.Cache, p.opts.S3Clients)
		if err != nil {
			return fmt.Errorf("failed to create cache: %w", err)
		}
		p.store = store
	}

	addr := p.opts.ListenAddr
	if addr == "" {
		addr = ":" + strconv.Itoa(int(p.localPort))
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		if p.opts.Store == nil {
			p.closeStore()
		}
		p.store = nil
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	p.listener = listener
	p.server = &http.Server{
		Handler:           p,
		ReadHeaderTimeout: 10 * time.Second,
	}
	p.started = true

	slog.Info("FTP HTTP proxy started", "id", p.id, "addr", listener.Addr().String(), "server", p.ftpServer)
	return nil
}

// closeStore releases cache backends that hold connections.
func (p *FTPHTTPProxy) closeStore() {
	closer, ok := p.store.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		slog.Warn("Failed to close cache", "id", p.id, "error", err)
	}
}

// Run serves HTTP until ctx is cancelled.
func (p *FTPHTTPProxy) Run(ctx context.Context) error {
	p.mu.RLock()
	server, listener := p.server, p.listener
	p.mu.RUnlock()
	if server == nil {
		return errors.New("proxy not set up")
	}
	defer p.closeStore()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), p.opts.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("FTP HTTP proxy shutdown incomplete", "id", p.id, "error", err)
		}
		slog.Info("FTP HTTP proxy stopped", "id", p.id)
		return ctx.Err()
	}
}
