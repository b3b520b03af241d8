package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	slogctx "github.com/veqryn/slog-context"

	"ftp-http-proxy/storage"
)

// requestName maps a URL path to the cache/remote file name. Backslashes are
// separators on the remote side, so they are converted before path.Clean
// removes every "..". The name never leaves the remote paths.
func requestName(urlPath string) string {
	return strings.TrimPrefix(path.Clean("/"+normalizeRemotePath(urlPath)), "/")
}

func (p *FTPHTTPProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := slog.Default().With(slog.String("component", p.id), slog.String("method", r.Method), slog.String("path", r.URL.Path))
	ctx := slogctx.NewCtx(r.Context(), log)
	p.requests.Add(1)

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := requestName(r.URL.Path)
	if name == "" {
		http.Error(w, "file name required", http.StatusBadRequest)
		return
	}

	if body, size, err := p.store.Open(ctx, name); err == nil {
		p.cacheHits.Add(1)
		log.Debug("Serving from cache")
		p.serve(ctx, w, r, body, size)
		return
	} else if !errors.Is(err, storage.ErrNotExist) {
		log.Warn("Cache lookup failed, fetching from remote", "error", err)
	}

	body, size, err := p.fetch(ctx, name)
	switch {
	case errors.Is(err, ErrNotFound):
		p.notFound.Add(1)
		log.Info("File not found on any remote path")
		http.Error(w, "not found", http.StatusNotFound)
		return
	case err != nil:
		p.failures.Add(1)
		log.Error("Fetching file failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	p.serve(ctx, w, r, body, size)
}

func (p *FTPHTTPProxy) serve(ctx context.Context, w http.ResponseWriter, r *http.Request, body io.ReadCloser, size int64) {
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		slogctx.FromCtx(ctx).Debug("Client went away during transfer", "error", err)
	}
}

// FindRemotePath returns the first remote path, in configured order, under
// which name exists on the server.
func (p *FTPHTTPProxy) FindRemotePath(ctx context.Context, name string) (string, error) {
	if p.fetcher == nil {
		return "", errors.New("proxy not set up")
	}
	session, err := p.fetcher.Connect(ctx)
	if err != nil {
		return "", err
	}
	defer session.Close()

	return p.findRemotePath(ctx, session, name)
}

func (p *FTPHTTPProxy) findRemotePath(ctx context.Context, session Session, name string) (string, error) {
	log := slogctx.FromCtx(ctx)
	for _, dir := range p.RemotePaths() {
		candidate := path.Join(dir, name)
		_, err := session.Size(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
		log.Debug("Not under remote path", "remote_path", dir)
	}
	return "", ErrNotFound
}

// tempBody removes the download file once the response is written.
type tempBody struct {
	*os.File
}

func (t tempBody) Close() error {
	err := t.File.Close()
	os.Remove(t.File.Name())
	return err
}

// fetch downloads name into a temporary file, stores a copy in the cache and
// returns the temporary file positioned at the start.
func (p *FTPHTTPProxy) fetch(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	log := slogctx.FromCtx(ctx)

	session, err := p.fetcher.Connect(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer session.Close()

	remote, err := p.findRemotePath(ctx, session, name)
	if err != nil {
		return nil, 0, err
	}

	tmp, err := os.CreateTemp(p.opts.TempDir, "ftp-http-proxy-*")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create download file: %w", err)
	}
	body := tempBody{tmp}

	size, err := session.Retrieve(remote, tmp)
	if err != nil {
		body.Close()
		return nil, 0, err
	}
	p.fetches.Add(1)
	log.Info("File fetched from remote", "remote", remote, "size", size)

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		body.Close()
		return nil, 0, fmt.Errorf("failed to rewind download file: %w", err)
	}
	if err := p.store.Put(ctx, name, tmp); err != nil {
		log.Warn("Failed to cache file", "error", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		body.Close()
		return nil, 0, fmt.Errorf("failed to rewind download file: %w", err)
	}

	return body, size, nil
}
