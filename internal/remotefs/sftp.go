// Package remotefs implements the RemoteFS port (spec.md §4.5, §6.3) over
// SFTP, grounded on the teacher's connectSFTP/transferFile SSH+sftp
// plumbing, generalized from a one-shot CLI copy into a reusable,
// cycle-scoped session.
package remotefs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/oneclicksftp/sftpsyncd/internal/syncengine"
)

// Dial timeout applied to the underlying SSH connection, matching the
// teacher's SFTPConfig.Timeout field.
const dialTimeout = 30 * time.Second

var (
	// ErrUnsupportedAuthType is returned when Connection.AuthType isn't
	// recognized by this implementation.
	ErrUnsupportedAuthType = errors.New("remotefs: unsupported auth type")
)

// SFTPRemoteFS opens cycle-scoped SFTP sessions against a Connection's
// host using golang.org/x/crypto/ssh for transport/auth and
// github.com/pkg/sftp for the protocol, exactly as the teacher's
// connectSFTP did for its two-sided copy tool.
type SFTPRemoteFS struct {
	logger *slog.Logger
}

// New creates an SFTPRemoteFS. logger may be nil, in which case a discard
// logger is used.
func New(logger *slog.Logger) *SFTPRemoteFS {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SFTPRemoteFS{logger: logger}
}

// Open establishes TCP+SSH transport and authenticates per c.AuthType,
// returning a session scoped to one reconciliation cycle.
func (r *SFTPRemoteFS) Open(ctx context.Context, c *syncengine.Connection) (syncengine.RemoteSession, error) {
	authMethod, err := authMethodFor(c)
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            c.Username,
		Auth:            []ssh.AuthMethod{authMethod},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}

	addr := fmt.Sprintf("%s:%d", c.Host, c.Port)
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("remotefs: dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("remotefs: ssh handshake with %s: %w", addr, err)
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("remotefs: open sftp subsystem: %w", err)
	}

	r.logger.Debug("sftp session opened", slog.String("host", c.Host), slog.Int("port", c.Port))
	return &sftpSession{client: sftpClient, ssh: sshClient, logger: r.logger}, nil
}

func authMethodFor(c *syncengine.Connection) (ssh.AuthMethod, error) {
	switch c.AuthType {
	case syncengine.AuthPassword:
		return ssh.Password(c.Password), nil
	case syncengine.AuthKey:
		key, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("remotefs: read private key: %w", err)
		}
		var signer ssh.Signer
		if c.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(c.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, fmt.Errorf("remotefs: parse private key: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAuthType, c.AuthType)
	}
}

// sftpSession implements syncengine.RemoteSession over one *sftp.Client.
type sftpSession struct {
	client *sftp.Client
	ssh    *ssh.Client
	logger *slog.Logger
}

func (s *sftpSession) ListRecursive(ctx context.Context, remoteRoot string) (syncengine.Snapshot, error) {
	base := normalizePosix(remoteRoot)
	if err := s.ensurePath(base); err != nil {
		return nil, fmt.Errorf("remotefs: ensure remote root %s: %w", base, err)
	}

	files := make(syncengine.Snapshot)
	if err := s.walk(ctx, base, "", files); err != nil {
		return nil, err
	}
	return files, nil
}

func (s *sftpSession) walk(ctx context.Context, absDir, relDir string, into syncengine.Snapshot) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	entries, err := s.client.ReadDir(absDir)
	if err != nil {
		return fmt.Errorf("remotefs: list %s: %w", absDir, err)
	}
	for _, entry := range entries {
		childAbs := joinPosix(absDir, entry.Name())
		childRel := joinRel(relDir, entry.Name())
		if entry.IsDir() {
			if err := s.walk(ctx, childAbs, childRel, into); err != nil {
				return err
			}
			continue
		}
		into[childRel] = syncengine.FileMeta{
			MTime: float64(entry.ModTime().Unix()),
			Size:  entry.Size(),
		}
	}
	return nil
}

func (s *sftpSession) EnsureParentDirs(ctx context.Context, remotePath string) error {
	parent := path.Dir(normalizePosix(remotePath))
	return s.ensurePath(parent)
}

func (s *sftpSession) ensurePath(remotePath string) error {
	normalized := normalizePosix(remotePath)
	if normalized == "/" || normalized == "." {
		return nil
	}
	absolute := path.IsAbs(normalized)
	var current string
	if absolute {
		current = "/"
	}
	for _, seg := range splitNonEmpty(normalized) {
		current = joinPosix(current, seg)
		if _, err := s.client.Stat(current); err != nil {
			if err := s.client.MkdirAll(current); err != nil {
				return fmt.Errorf("remotefs: mkdir %s: %w", current, err)
			}
		}
	}
	return nil
}

func (s *sftpSession) UploadFile(ctx context.Context, localPath, remotePath string) error {
	if err := s.EnsureParentDirs(ctx, remotePath); err != nil {
		return err
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("remotefs: open local file %s: %w", localPath, err)
	}
	defer src.Close()

	tmp := remotePath + ".sftpsync-tmp"
	dst, err := s.client.Create(tmp)
	if err != nil {
		return fmt.Errorf("remotefs: create remote temp file %s: %w", tmp, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		s.client.Remove(tmp)
		return fmt.Errorf("remotefs: upload %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		s.client.Remove(tmp)
		return fmt.Errorf("remotefs: finalize upload %s: %w", remotePath, err)
	}
	if err := s.client.Rename(tmp, remotePath); err != nil {
		s.client.Remove(tmp)
		return fmt.Errorf("remotefs: rename temp upload into place %s: %w", remotePath, err)
	}

	if info, err := os.Stat(localPath); err == nil {
		mtime := info.ModTime()
		_ = s.client.Chtimes(remotePath, mtime, mtime)
	}
	return nil
}

func (s *sftpSession) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("remotefs: create local parent dirs for %s: %w", localPath, err)
	}

	src, err := s.client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("remotefs: open remote file %s: %w", remotePath, err)
	}
	defer src.Close()

	tmp := localPath + ".sftpsync-tmp"
	dst, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("remotefs: create local temp file %s: %w", tmp, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmp)
		return fmt.Errorf("remotefs: download %s: %w", remotePath, err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("remotefs: finalize download %s: %w", remotePath, err)
	}
	if err := os.Rename(tmp, localPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("remotefs: rename temp download into place %s: %w", localPath, err)
	}

	if info, err := src.Stat(); err == nil {
		mtime := info.ModTime()
		_ = os.Chtimes(localPath, mtime, mtime)
	}
	return nil
}

func (s *sftpSession) DeletePath(ctx context.Context, remotePath string) error {
	info, err := s.client.Stat(remotePath)
	if err != nil {
		return nil // missing paths are a no-op
	}
	if !info.IsDir() {
		return s.client.Remove(remotePath)
	}
	entries, err := s.client.ReadDir(remotePath)
	if err != nil {
		return fmt.Errorf("remotefs: list %s for deletion: %w", remotePath, err)
	}
	for _, entry := range entries {
		if err := s.DeletePath(ctx, joinPosix(remotePath, entry.Name())); err != nil {
			return err
		}
	}
	return s.client.RemoveDirectory(remotePath)
}

func (s *sftpSession) Close() error {
	var firstErr error
	if err := s.client.Close(); err != nil {
		firstErr = err
	}
	if err := s.ssh.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func normalizePosix(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean(p)
	if cleaned == "" {
		return "/"
	}
	return cleaned
}

func joinPosix(dir, name string) string {
	if dir == "" || dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func joinRel(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func splitNonEmpty(p string) []string {
	var segs []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}
