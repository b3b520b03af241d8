package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftp-http-proxy/storage"
)

// fakeFetcher serves files from memory.
type fakeFetcher struct {
	mu         sync.Mutex
	files      map[string]string
	connectErr error
	sizeErr    error
	connects   int
	retrieved  []string
	requested  []string
}

func (f *fakeFetcher) Connect(ctx context.Context) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return &fakeSession{f: f}, nil
}

type fakeSession struct {
	f *fakeFetcher
}

func (s *fakeSession) Size(remotePath string) (int64, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	s.f.requested = append(s.f.requested, normalizeRemotePath(remotePath))
	if s.f.sizeErr != nil {
		return 0, s.f.sizeErr
	}
	content, ok := s.f.files[remotePath]
	if !ok {
		return 0, ErrNotFound
	}
	return int64(len(content)), nil
}

func (s *fakeSession) Retrieve(remotePath string, w io.Writer) (int64, error) {
	s.f.mu.Lock()
	content, ok := s.f.files[remotePath]
	s.f.retrieved = append(s.f.retrieved, remotePath)
	s.f.mu.Unlock()
	if !ok {
		return 0, ErrNotFound
	}
	n, err := io.Copy(w, bytes.NewBufferString(content))
	return n, err
}

func (s *fakeSession) Close() error { return nil }

func newTestProxy(t *testing.T, fetcher Fetcher, remotePaths ...string) (*FTPHTTPProxy, *storage.Filesystem) {
	t.Helper()

	store, err := storage.NewFilesystem(t.TempDir())
	require.NoError(t, err)

	p, err := New("test_proxy", Options{
		Fetcher:    fetcher,
		Store:      store,
		ListenAddr: "127.0.0.1:0",
		TempDir:    t.TempDir(),
	})
	require.NoError(t, err)

	require.NoError(t, p.SetFTPServer("ftp.example.com"))
	require.NoError(t, p.SetUsername("u"))
	require.NoError(t, p.SetPassword("p"))
	require.NoError(t, p.SetLocalPort(9000))
	for _, rp := range remotePaths {
		require.NoError(t, p.AddRemotePath(rp))
	}
	require.NoError(t, p.Setup(context.Background()))
	t.Cleanup(func() { p.listener.Close() })

	return p, store
}

func get(p *FTPHTTPProxy, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestNew(t *testing.T) {
	_, err := New("", Options{})
	assert.ErrorIs(t, err, ErrEmptyValue)

	p, err := New("p1", Options{})
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID())
	assert.Equal(t, "ftp", p.opts.Protocol)
	assert.Equal(t, 30*time.Second, p.opts.Timeout)
	assert.Equal(t, uint16(8000), p.LocalPort())
}

func TestSetters(t *testing.T) {
	p, err := New("p1", Options{})
	require.NoError(t, err)

	assert.ErrorIs(t, p.SetFTPServer(""), ErrEmptyValue)
	assert.ErrorIs(t, p.SetUsername(""), ErrEmptyValue)
	assert.NoError(t, p.SetPassword(""))
	assert.ErrorIs(t, p.SetLocalPort(0), ErrInvalidPort)
	assert.ErrorIs(t, p.AddRemotePath(""), ErrEmptyValue)

	require.NoError(t, p.AddRemotePath("/b"))
	require.NoError(t, p.AddRemotePath("/a"))
	assert.Equal(t, []string{"/b", "/a"}, p.RemotePaths())
}

func TestSetup_Validation(t *testing.T) {
	p, err := New("p1", Options{Fetcher: &fakeFetcher{}, ListenAddr: "127.0.0.1:0"})
	require.NoError(t, err)

	assert.ErrorIs(t, p.Setup(context.Background()), ErrEmptyValue, "server missing")

	require.NoError(t, p.SetFTPServer("ftp.example.com"))
	assert.ErrorIs(t, p.Setup(context.Background()), ErrEmptyValue, "remote paths missing")
}

func TestSetters_AfterSetup(t *testing.T) {
	p, _ := newTestProxy(t, &fakeFetcher{}, "/a")

	assert.ErrorIs(t, p.SetFTPServer("other"), ErrAlreadyStarted)
	assert.ErrorIs(t, p.AddRemotePath("/late"), ErrAlreadyStarted)
	assert.ErrorIs(t, p.Setup(context.Background()), ErrAlreadyStarted)
	assert.Equal(t, []string{"/a"}, p.RemotePaths())
}

// closingStore counts Close calls on a filesystem store.
type closingStore struct {
	storage.Store
	closed atomic.Int32
}

func (c *closingStore) Close() error {
	c.closed.Add(1)
	return nil
}

func occupiedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l.Addr().String()
}

func configuredProxy(t *testing.T, opts Options) *FTPHTTPProxy {
	t.Helper()
	opts.Fetcher = &fakeFetcher{}
	p, err := New("p1", opts)
	require.NoError(t, err)
	require.NoError(t, p.SetFTPServer("ftp.example.com"))
	require.NoError(t, p.AddRemotePath("/a"))
	return p
}

func TestSetup_ListenFailureClosesBuiltStore(t *testing.T) {
	fs, err := storage.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	built := &closingStore{Store: fs}

	original := newStore
	newStore = func(ctx context.Context, cfg storage.Config, clients *storage.S3ClientManager) (storage.Store, error) {
		return built, nil
	}
	t.Cleanup(func() { newStore = original })

	p := configuredProxy(t, Options{ListenAddr: occupiedAddr(t)})

	require.Error(t, p.Setup(context.Background()))
	assert.Equal(t, int32(1), built.closed.Load())
	assert.Empty(t, p.Addr())
}

func TestSetup_ListenFailureKeepsGivenStore(t *testing.T) {
	fs, err := storage.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	given := &closingStore{Store: fs}

	p := configuredProxy(t, Options{ListenAddr: occupiedAddr(t), Store: given})

	require.Error(t, p.Setup(context.Background()))
	assert.Equal(t, int32(0), given.closed.Load(), "a store passed in options belongs to the caller")
}

func TestStats_CountsRejectedRequests(t *testing.T) {
	p, _ := newTestProxy(t, &fakeFetcher{}, "/a")

	get(p, http.MethodPost, "/x.txt")
	get(p, http.MethodGet, "/")

	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Requests)
	assert.Zero(t, stats.Fetches)
	assert.Zero(t, stats.Failures)
}

func TestServeHTTP_RemotePathPriority(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string]string{
		"/a/song.mp3": "from a",
		"/b/song.mp3": "from b",
		"/b/only.mp3": "only b",
	}}
	p, _ := newTestProxy(t, fetcher, "/a", "/b")

	rec := get(p, http.MethodGet, "/song.mp3")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from a", rec.Body.String())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))

	rec = get(p, http.MethodGet, "/only.mp3")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "only b", rec.Body.String())

	assert.Equal(t, []string{"/a/song.mp3", "/b/only.mp3"}, fetcher.retrieved)
}

func TestServeHTTP_Cache(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string]string{"/a/dir/file.bin": "payload"}}
	p, store := newTestProxy(t, fetcher, "/a")

	rec := get(p, http.MethodGet, "/dir/file.bin")
	require.Equal(t, http.StatusOK, rec.Code)

	rc, size, err := store.Open(context.Background(), "dir/file.bin")
	require.NoError(t, err)
	rc.Close()
	assert.Equal(t, int64(len("payload")), size)

	rec = get(p, http.MethodGet, "/dir/file.bin")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload", rec.Body.String())

	assert.Equal(t, 1, fetcher.connects, "second request must be served from cache")
	stats := p.Stats()
	assert.Equal(t, uint64(2), stats.Requests)
	assert.Equal(t, uint64(1), stats.CacheHits)
	assert.Equal(t, uint64(1), stats.Fetches)
}

func TestServeHTTP_Errors(t *testing.T) {
	tests := []struct {
		name     string
		fetcher  *fakeFetcher
		method   string
		target   string
		wantCode int
	}{
		{"not found", &fakeFetcher{files: map[string]string{}}, http.MethodGet, "/missing.txt", http.StatusNotFound},
		{"connect failure", &fakeFetcher{connectErr: errors.New("connection refused")}, http.MethodGet, "/x.txt", http.StatusInternalServerError},
		{"size failure", &fakeFetcher{sizeErr: errors.New("421 too many users")}, http.MethodGet, "/x.txt", http.StatusInternalServerError},
		{"method", &fakeFetcher{}, http.MethodPost, "/x.txt", http.StatusMethodNotAllowed},
		{"empty name", &fakeFetcher{}, http.MethodGet, "/", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestProxy(t, tt.fetcher, "/a")
			rec := get(p, tt.method, tt.target)
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestServeHTTP_Head(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string]string{"/a/f.txt": "12345"}}
	p, _ := newTestProxy(t, fetcher, "/a")

	rec := get(p, http.MethodHead, "/f.txt")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Content-Length"))
	assert.Empty(t, rec.Body.String())
}

func TestServeHTTP_Traversal(t *testing.T) {
	targets := []string{
		"/../../etc/passwd",
		"/..%5C..%5Cetc%5Cpasswd",
		"/sub%5C..%5C..%5C..%5Cetc%5Cpasswd",
	}

	for _, target := range targets {
		t.Run(target, func(t *testing.T) {
			fetcher := &fakeFetcher{files: map[string]string{"/a/etc/passwd": "inside", "/etc/passwd": "outside"}}
			p, _ := newTestProxy(t, fetcher, "/a")

			rec := get(p, http.MethodGet, target)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "inside", rec.Body.String())

			require.NotEmpty(t, fetcher.requested)
			for _, remote := range fetcher.requested {
				assert.Equal(t, "/a/etc/passwd", remote)
			}
		})
	}
}

func TestRequestName(t *testing.T) {
	tests := map[string]string{
		"/file.txt":          "file.txt",
		"/dir/sub/file.txt":  "dir/sub/file.txt",
		"/../x":              "x",
		"/a/../../b":         "b",
		"/":                  "",
		"//double//slash.md": "double/slash.md",
		`/..\..\etc\passwd`:  "etc/passwd",
		`/dir\file.txt`:      "dir/file.txt",
		`/a\..\..\..\b`:      "b",
		`\`:                  "",
	}
	for in, want := range tests {
		assert.Equal(t, want, requestName(in), in)
	}
}

func TestFindRemotePath(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string]string{"/b/x": "1", "/c/x": "2"}}
	p, _ := newTestProxy(t, fetcher, "/a", "/b", "/c")

	got, err := p.FindRemotePath(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "/b/x", got)

	_, err = p.FindRemotePath(context.Background(), "y")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRun(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string]string{"/a/hello.txt": "hello"}}
	p, _ := newTestProxy(t, fetcher, "/a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	resp, err := http.Get("http://" + p.Addr() + "/hello.txt")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", string(body))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRemoteAddress(t *testing.T) {
	tests := []struct {
		server  string
		port    uint16
		def     uint16
		want    string
		wantErr bool
	}{
		{"ftp.example.com", 0, 21, "ftp.example.com:21", false},
		{"ftp.example.com", 2121, 21, "ftp.example.com:2121", false},
		{"ftp.example.com:990", 2121, 21, "ftp.example.com:990", false},
		{"ftp://nas.local", 0, 21, "nas.local:21", false},
		{"sftp://nas.local:2222", 0, 22, "nas.local:2222", false},
		{"192.168.1.10", 0, 22, "192.168.1.10:22", false},
		{"ftp://", 0, 21, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			got, err := remoteAddress(tt.server, tt.port, tt.def)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewFetcher(t *testing.T) {
	p, err := New("p1", Options{Protocol: "sftp", RemotePort: 2222})
	require.NoError(t, err)
	require.NoError(t, p.SetFTPServer("nas.local"))

	f, err := p.newFetcher()
	require.NoError(t, err)
	sftpFetcher, ok := f.(*SFTPFetcher)
	require.True(t, ok)
	assert.Equal(t, "nas.local:2222", sftpFetcher.Addr)

	p.opts.Protocol = "ftp"
	p.opts.RemotePort = 0
	f, err = p.newFetcher()
	require.NoError(t, err)
	assert.Equal(t, "nas.local:21", f.(*FTPFetcher).Addr)

	p.opts.Protocol = "gopher"
	_, err = p.newFetcher()
	assert.Error(t, err)
}
