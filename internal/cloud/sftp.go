package cloud

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"walvault/internal/config"
	errs "walvault/internal/errors"
	"walvault/internal/logger"
)

// sftpBackend pushes snapshots over SSH. The connection is dialed on
// first use and cached; any transfer error drops it so the next
// attempt redials.
type sftpBackend struct {
	addr  string
	dir   string
	conf  *ssh.ClientConfig
	limit int64
	log   logger.Logger

	mu   sync.Mutex
	ssh  *ssh.Client
	sftp *sftp.Client
}

const sshDialTimeout = 30 * time.Second

func newSFTPBackend(cfg *config.Config, log logger.Logger, limit int64) (*sftpBackend, error) {
	if cfg.SFTPHost == "" {
		return nil, errs.NewConfigError(errs.ErrCodeInvalidConfig,
			"cloud provider is sftp but no host is set",
			"Set SFTP_HOST or cloud.sftpHost in walvault.yaml")
	}

	auth, err := sshAuthMethods(cfg.SFTPKeyFile)
	if err != nil {
		return nil, err
	}
	hostKeys, err := hostKeyCallback(log)
	if err != nil {
		return nil, err
	}

	return &sftpBackend{
		addr: net.JoinHostPort(cfg.SFTPHost, strconv.Itoa(cfg.SFTPPort)),
		dir:  strings.TrimRight(cfg.SFTPDir, "/"),
		conf: &ssh.ClientConfig{
			User:            cfg.SFTPUser,
			Auth:            auth,
			HostKeyCallback: hostKeys,
			Timeout:         sshDialTimeout,
		},
		limit: limit,
		log:   log,
	}, nil
}

// sshAuthMethods builds the auth chain: an explicit key file, else the
// usual suspects under ~/.ssh, plus a running agent either way.
func sshAuthMethods(keyFile string) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if keyFile != "" {
		signer, err := loadSigner(keyFile)
		if err != nil {
			return nil, errs.NewConfigError(errs.ErrCodeInvalidConfig,
				fmt.Sprintf("cannot use SSH key %s: %v", keyFile, err),
				"Point SFTP_KEY_FILE at a readable, unencrypted private key")
		}
		methods = append(methods, ssh.PublicKeys(signer))
	} else if home, err := os.UserHomeDir(); err == nil {
		for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
			signer, err := loadSigner(filepath.Join(home, ".ssh", name))
			if err != nil {
				continue
			}
			methods = append(methods, ssh.PublicKeys(signer))
			break
		}
	}

	if am := agentAuth(); am != nil {
		methods = append(methods, am)
	}

	if len(methods) == 0 {
		return nil, errs.NewConfigError(errs.ErrCodeInvalidConfig,
			"no SSH key or agent available for sftp sync",
			"Set SFTP_KEY_FILE, add a key under ~/.ssh, or start an ssh-agent")
	}
	return methods, nil
}

func loadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(data)
}

// agentAuth returns agent-backed auth when SSH_AUTH_SOCK points at a
// live agent.
func agentAuth() ssh.AuthMethod {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers)
}

// hostKeyCallback verifies the remote against ~/.ssh/known_hosts when
// the file exists; otherwise host checking is off and a warning says
// so.
func hostKeyCallback(log logger.Logger) (ssh.HostKeyCallback, error) {
	if home, err := os.UserHomeDir(); err == nil {
		known := filepath.Join(home, ".ssh", "known_hosts")
		if _, err := os.Stat(known); err == nil {
			cb, err := knownhosts.New(known)
			if err != nil {
				return nil, fmt.Errorf("parsing %s: %w", known, err)
			}
			return cb, nil
		}
	}
	log.Warn("No known_hosts file; skipping SSH host key verification")
	return ssh.InsecureIgnoreHostKey(), nil // #nosec G106
}

func (b *sftpBackend) connect() (*sftp.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sftp != nil {
		return b.sftp, nil
	}

	sshClient, err := ssh.Dial("tcp", b.addr, b.conf)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", b.addr, err)
	}
	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("sftp session on %s: %w", b.addr, err)
	}

	b.ssh, b.sftp = sshClient, sftpClient
	return sftpClient, nil
}

// reset drops the cached connection so the next call redials.
func (b *sftpBackend) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sftp != nil {
		_ = b.sftp.Close()
		b.sftp = nil
	}
	if b.ssh != nil {
		_ = b.ssh.Close()
		b.ssh = nil
	}
}

func (b *sftpBackend) Name() string {
	return "sftp"
}

func (b *sftpBackend) remote(remotePath string) string {
	if b.dir == "" {
		return remotePath
	}
	return path.Join(b.dir, remotePath)
}

func (b *sftpBackend) Put(ctx context.Context, localPath, remotePath string, progress ProgressFunc) error {
	target := b.remote(remotePath)
	return withRetry(ctx, b.log, "sftp upload "+target, defaultPolicy(), func() error {
		client, err := b.connect()
		if err != nil {
			return err
		}

		f, err := os.Open(localPath)
		if err != nil {
			return err
		}
		defer f.Close()

		st, err := f.Stat()
		if err != nil {
			return err
		}

		if dir := path.Dir(target); dir != "." && dir != "/" {
			if err := client.MkdirAll(dir); err != nil {
				b.reset()
				return fmt.Errorf("mkdir %s: %w", dir, err)
			}
		}

		dst, err := client.Create(target)
		if err != nil {
			b.reset()
			return fmt.Errorf("creating %s: %w", target, err)
		}

		var src io.Reader = f
		if progress != nil {
			src = &progressReader{r: src, total: st.Size(), fn: progress}
		}
		if b.limit > 0 {
			src = NewThrottledReader(ctx, src, b.limit)
		}

		if _, err := copyWithContext(ctx, dst, src); err != nil {
			_ = dst.Close()
			b.reset()
			return fmt.Errorf("writing %s: %w", target, err)
		}
		if err := dst.Close(); err != nil {
			b.reset()
			return fmt.Errorf("closing %s: %w", target, err)
		}
		return nil
	})
}

func (b *sftpBackend) Stat(ctx context.Context, remotePath string) (int64, bool, error) {
	target := b.remote(remotePath)

	client, err := b.connect()
	if err != nil {
		return 0, false, err
	}
	st, err := client.Stat(target)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		b.reset()
		return 0, false, fmt.Errorf("stat %s: %w", target, err)
	}
	return st.Size(), true, nil
}

func (b *sftpBackend) Close() error {
	b.reset()
	return nil
}
