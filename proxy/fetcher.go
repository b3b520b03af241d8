package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// ErrNotFound is returned by a Session when the remote file does not exist.
var ErrNotFound = errors.New("remote file not found")

// Fetcher opens sessions against the remote file server.
type Fetcher interface {
	Connect(ctx context.Context) (Session, error)
}

// Session is one authenticated connection. It is used by a single request.
type Session interface {
	// Size returns the size of the remote file, or ErrNotFound.
	Size(remotePath string) (int64, error)
	// Retrieve copies the remote file to w.
	Retrieve(remotePath string, w io.Writer) (int64, error)
	Close() error
}

// Credentials of the remote server.
type Credentials struct {
	Username string
	Password string
}

// remoteAddress turns a configured server ("host", "host:port" or
// "ftp://host[:port]") into host:port.
func remoteAddress(server string, port uint16, defaultPort uint16) (string, error) {
	host := server
	if strings.Contains(server, "://") {
		u, err := url.Parse(server)
		if err != nil {
			return "", fmt.Errorf("invalid server address: %w", err)
		}
		host = u.Host
	}
	if host == "" {
		return "", fmt.Errorf("invalid server address %q", server)
	}

	if _, _, err := net.SplitHostPort(host); err == nil {
		return host, nil
	}
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port))), nil
}

// normalizeRemotePath converts Windows separators for remote transfer
func normalizeRemotePath(path string) string {
	return strings.ReplaceAll(path, "\\", "/")
}

// FTPFetcher connects with plain FTP.
type FTPFetcher struct {
	Addr        string
	Credentials Credentials
	Timeout     time.Duration
}

func (f *FTPFetcher) Connect(ctx context.Context) (Session, error) {
	conn, err := ftp.Dial(f.Addr, ftp.DialWithTimeout(f.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("FTP connection failed: %w", err)
	}

	if err := conn.Login(f.Credentials.Username, f.Credentials.Password); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("FTP login failed: %w", err)
	}

	return &ftpSession{conn: conn}, nil
}

type ftpSession struct {
	conn *ftp.ServerConn
}

// isFileUnavailable reports a 550 reply, the standard code for a missing file.
func isFileUnavailable(err error) bool {
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable
}

func (s *ftpSession) Size(remotePath string) (int64, error) {
	size, err := s.conn.FileSize(normalizeRemotePath(remotePath))
	if err != nil {
		if isFileUnavailable(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("FTP size of %s failed: %w", remotePath, err)
	}
	return size, nil
}

func (s *ftpSession) Retrieve(remotePath string, w io.Writer) (int64, error) {
	resp, err := s.conn.Retr(normalizeRemotePath(remotePath))
	if err != nil {
		if isFileUnavailable(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("FTP download of %s failed: %w", remotePath, err)
	}
	defer resp.Close()

	n, err := io.Copy(w, resp)
	if err != nil {
		return n, fmt.Errorf("FTP download of %s failed: %w", remotePath, err)
	}
	return n, nil
}

func (s *ftpSession) Close() error {
	return s.conn.Quit()
}

// SFTPFetcher connects with SFTP over SSH using password authentication.
type SFTPFetcher struct {
	Addr        string
	Credentials Credentials
	Timeout     time.Duration
}

// createSSHConfig builds the SSH client configuration for SFTP
func createSSHConfig(creds Credentials, timeout time.Duration) *ssh.ClientConfig {
	return &ssh.ClientConfig{
		User: creds.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(creds.Password),
		},
		// TODO: accept a known_hosts file once the schema grows a host key option
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}
}

func (f *SFTPFetcher) Connect(ctx context.Context) (Session, error) {
	dialer := net.Dialer{Timeout: f.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", f.Addr)
	if err != nil {
		return nil, fmt.Errorf("SSH connection failed: %w", err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, f.Addr, createSSHConfig(f.Credentials, f.Timeout))
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("SSH handshake failed: %w", err)
	}
	conn := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SFTP client creation failed: %w", err)
	}

	return &sftpSession{conn: conn, client: client}, nil
}

type sftpSession struct {
	conn   *ssh.Client
	client *sftp.Client
}

func (s *sftpSession) Size(remotePath string) (int64, error) {
	info, err := s.client.Stat(normalizeRemotePath(remotePath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("SFTP stat of %s failed: %w", remotePath, err)
	}
	if info.IsDir() {
		return 0, ErrNotFound
	}
	return info.Size(), nil
}

func (s *sftpSession) Retrieve(remotePath string, w io.Writer) (int64, error) {
	src, err := s.client.Open(normalizeRemotePath(remotePath))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("SFTP open of %s failed: %w", remotePath, err)
	}
	defer src.Close()

	n, err := io.Copy(w, src)
	if err != nil {
		return n, fmt.Errorf("SFTP download of %s failed: %w", remotePath, err)
	}
	return n, nil
}

func (s *sftpSession) Close() error {
	clientErr := s.client.Close()
	connErr := s.conn.Close()
	return errors.Join(clientErr, connErr)
}
