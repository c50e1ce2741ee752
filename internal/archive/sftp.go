// Package archive copies finished clips to a remote file server over
// SFTP and prunes clips older than the retention period.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/showgayaki/camenashi-kun/internal/logging"
)

const (
	// Ext is the only file type the sweep removes.
	Ext = ".mp4"
	// nameLayout is the timestamp prefix of a recording file name.
	nameLayout = "20060102-150405"

	defaultDialTimeout = 10 * time.Second
)

type Options struct {
	Host       string
	Port       int
	User       string
	Password   string
	KeyFile    string
	KnownHosts string
	Timeout    time.Duration
}

func (o Options) addr() string {
	port := o.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(o.Host, strconv.Itoa(port))
}

// remoteFS is one open session on the file server.
type remoteFS interface {
	Put(local, remote string) (int64, error)
	ReadDir(dir string) ([]os.FileInfo, error)
	Remove(path string) error
	Close() error
}

type dialFunc func(ctx context.Context) (remoteFS, error)

type SFTPArchiver struct {
	host   string
	dial   dialFunc
	now    func() time.Time
	logger *slog.Logger
}

func NewSFTP(opts Options, logger *slog.Logger) (*SFTPArchiver, error) {
	cfg, err := clientConfig(opts, logger)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}
	cfg.Timeout = timeout

	dial := func(ctx context.Context) (remoteFS, error) {
		fs, err := dialSFTP(ctx, opts.addr(), cfg)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
	return newArchiver(opts.Host, dial, logger), nil
}

func newArchiver(host string, dial dialFunc, logger *slog.Logger) *SFTPArchiver {
	return &SFTPArchiver{
		host:   host,
		dial:   dial,
		now:    time.Now,
		logger: logging.WithComponent(logging.OrDiscard(logger), "archive"),
	}
}

// Host is the file server name, used in operator-facing paths.
func (a *SFTPArchiver) Host() string {
	return a.host
}

func clientConfig(opts Options, logger *slog.Logger) (*ssh.ClientConfig, error) {
	if opts.Host == "" || opts.User == "" {
		return nil, errors.New("sftp host and user are required")
	}

	var auth []ssh.AuthMethod
	if opts.KeyFile != "" {
		key, err := os.ReadFile(opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse key file: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if opts.Password != "" {
		auth = append(auth, ssh.Password(opts.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("sftp needs a key file or a password")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if opts.KnownHosts != "" {
		cb, err := knownhosts.New(opts.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKey = cb
	} else {
		logging.OrDiscard(logger).Warn("sftp host key is not verified; set archive.known_hosts", "host", opts.Host)
	}

	return &ssh.ClientConfig{
		User:            opts.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
	}, nil
}

type sftpFS struct {
	conn   *ssh.Client
	client *sftp.Client
}

func dialSFTP(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*sftpFS, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(nc, addr, cfg)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	conn := ssh.NewClient(c, chans, reqs)
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to start sftp: %w", err)
	}
	return &sftpFS{conn: conn, client: client}, nil
}

func (s *sftpFS) Put(local, remote string) (int64, error) {
	src, err := os.Open(local)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	if err := s.client.MkdirAll(path.Dir(remote)); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path.Dir(remote), err)
	}
	dst, err := s.client.Create(remote)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func (s *sftpFS) ReadDir(dir string) ([]os.FileInfo, error) {
	return s.client.ReadDir(dir)
}

func (s *sftpFS) Remove(p string) error {
	return s.client.Remove(p)
}

func (s *sftpFS) Close() error {
	return errors.Join(s.client.Close(), s.conn.Close())
}

// Upload copies local to the remote path.
func (a *SFTPArchiver) Upload(ctx context.Context, local, remote string) error {
	fs, err := a.dial(ctx)
	if err != nil {
		return err
	}
	defer fs.Close()

	a.logger.Info("sftp upload started", "host", a.host, "remote", remote)
	n, err := fs.Put(local, remote)
	if err != nil {
		return fmt.Errorf("sftp upload %s: %w", remote, err)
	}
	a.logger.Info("sftp uploaded", "remote", remote, "bytes", n)
	return nil
}

// Entry is one remote file considered by the sweep.
type Entry struct {
	Name    string
	ModTime time.Time
}

// Expired returns the names of .mp4 entries older than days, sorted by
// name. Age comes from the timestamp prefix of the name when it has one,
// otherwise from the modification time.
func Expired(entries []Entry, now time.Time, days int) []string {
	cutoff := now.AddDate(0, 0, -days)
	var out []string
	for _, e := range entries {
		if path.Ext(e.Name) != Ext {
			continue
		}
		if fileTime(e, now.Location()).Before(cutoff) {
			out = append(out, e.Name)
		}
	}
	sort.Strings(out)
	return out
}

func fileTime(e Entry, loc *time.Location) time.Time {
	if len(e.Name) >= len(nameLayout) {
		if t, err := time.ParseInLocation(nameLayout, e.Name[:len(nameLayout)], loc); err == nil {
			return t
		}
	}
	return e.ModTime
}

// RemoveOlderThan deletes expired clips in dir and returns the removed
// paths. A failed removal is logged and the sweep continues.
func (a *SFTPArchiver) RemoveOlderThan(ctx context.Context, dir string, days int) ([]string, error) {
	if days <= 0 {
		return nil, fmt.Errorf("retention days must be > 0, got %d", days)
	}
	fs, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer fs.Close()

	infos, err := fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() {
			continue
		}
		entries = append(entries, Entry{Name: fi.Name(), ModTime: fi.ModTime()})
	}

	now := a.now()
	a.logger.Info("removing old files", "dir", dir, "older_than", now.AddDate(0, 0, -days).Format(time.DateOnly))

	var removed []string
	var errs []error
	for _, name := range Expired(entries, now, days) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		p := path.Join(dir, name)
		if err := fs.Remove(p); err != nil {
			a.logger.Warn("failed to remove file", "path", p, "error", err)
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
			continue
		}
		a.logger.Info("removed file", "path", p)
		removed = append(removed, p)
	}
	if len(removed) == 0 {
		a.logger.Info("no files found to remove", "dir", dir)
	}
	return removed, errors.Join(errs...)
}

// RemotePath joins the upload dir and the file name with forward slashes.
func RemotePath(dir, local string) string {
	return path.Join(dir, path.Base(strings.ReplaceAll(local, "\\", "/")))
}
