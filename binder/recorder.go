package binder

import (
	"context"
	"fmt"
	"sync"

	"ftp-http-proxy/component"
	"ftp-http-proxy/proxy"
)

// Recorder is a Registry and Factory that records the calls a bind pass
// issues instead of configuring real proxies.
type Recorder struct {
	// Redact hides passwords in the recorded calls.
	Redact bool

	mu    sync.Mutex
	calls []string
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded calls in order.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *Recorder) Register(c component.Component) error {
	r.record("register(%q)", c.ID())
	return nil
}

func (r *Recorder) Unregister(id string) {
	r.record("unregister(%q)", id)
}

func (r *Recorder) Factory() Factory {
	return func(id string, opts proxy.Options) (Target, error) {
		r.record("instantiate(%q)", id)
		return &recordingTarget{id: id, r: r}, nil
	}
}

type recordingTarget struct {
	id string
	r  *Recorder
}

func (t *recordingTarget) ID() string { return t.id }

func (t *recordingTarget) Setup(ctx context.Context) error { return nil }

func (t *recordingTarget) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (t *recordingTarget) SetFTPServer(server string) error {
	t.r.record("set_ftp_server(%q)", server)
	return nil
}

func (t *recordingTarget) SetUsername(username string) error {
	t.r.record("set_username(%q)", username)
	return nil
}

func (t *recordingTarget) SetPassword(password string) error {
	if t.r.Redact {
		password = "******"
	}
	t.r.record("set_password(%q)", password)
	return nil
}

func (t *recordingTarget) SetLocalPort(port uint16) error {
	t.r.record("set_local_port(%d)", port)
	return nil
}

func (t *recordingTarget) AddRemotePath(remotePath string) error {
	t.r.record("add_remote_path(%q)", remotePath)
	return nil
}
