package remote

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"gpurent/internal/marketplace"
)

var (
	// ErrExecTimeout means the remote command was killed after exceeding its
	// hard deadline.
	ErrExecTimeout = stderrors.New("remote execution timeout")

	// ErrTransfer means an upload could not be verified against the local
	// checksum.
	ErrTransfer = stderrors.New("transfer verification failed")
)

func IsExecTimeout(err error) bool {
	return stderrors.Is(err, ErrExecTimeout)
}

func IsTransfer(err error) bool {
	return stderrors.Is(err, ErrTransfer)
}

// Credential selects SSH authentication material.
type Credential struct {
	KeyPath  string
	Password string
}

// ConnectOptions bounds the connection retry loop. A freshly provisioned
// instance's sshd is not immediately reachable, so connecting always retries
// with capped exponential backoff.
type ConnectOptions struct {
	Retries  uint
	Delay    time.Duration
	MaxDelay time.Duration
}

func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{
		Retries:  10,
		Delay:    2 * time.Second,
		MaxDelay: 20 * time.Second,
	}
}

// Session wraps one SSH connection to a ready instance. Each operation runs
// in its own SSH channel; Close releases the connection and is safe to defer
// on every exit path.
type Session struct {
	client *ssh.Client
	addr   string
}

// Connect dials the instance endpoint, retrying with backoff until sshd
// accepts the handshake or the attempts are exhausted.
func Connect(ctx context.Context, endpoint marketplace.Endpoint, cred Credential, opts ConnectOptions) (*Session, error) {
	if !endpoint.Populated() {
		return nil, errors.New("endpoint host and port are not populated")
	}

	auth, err := authMethods(cred)

	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            endpoint.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	addr := net.JoinHostPort(endpoint.Host, fmt.Sprintf("%d", endpoint.Port))

	var client *ssh.Client

	err = retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return retry.Unrecoverable(err)
			}

			c, dialErr := ssh.Dial("tcp", addr, config)

			if dialErr != nil {
				return dialErr
			}

			client = c

			return nil
		},
		retry.Attempts(opts.Retries),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, _ *retry.Config) time.Duration {
			if n >= 4 {
				return opts.MaxDelay
			}
			d := opts.Delay << n
			if d > opts.MaxDelay {
				d = opts.MaxDelay
			}
			return d
		}),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithFields(log.Fields{
				"addr":    addr,
				"attempt": n + 1,
			}).Debug("ssh not reachable yet")
		}),
	)

	if err != nil {
		return nil, errors.Wrapf(err, "ssh connect %s", addr)
	}

	log.WithField("addr", addr).Info("ssh session established")

	return &Session{client: client, addr: addr}, nil
}

func (s *Session) Close() error {
	if s.client == nil {
		return nil
	}

	err := s.client.Close()
	s.client = nil

	log.WithField("addr", s.addr).Debug("ssh session closed")

	return err
}

func authMethods(cred Credential) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cred.KeyPath != "" {
		data, err := os.ReadFile(cred.KeyPath)

		if err != nil {
			return nil, errors.Wrapf(err, "read private key %s", cred.KeyPath)
		}

		signer, err := ssh.ParsePrivateKey(data)

		if err != nil {
			return nil, errors.Wrapf(err, "parse private key %s", cred.KeyPath)
		}

		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cred.Password != "" {
		methods = append(methods, ssh.Password(cred.Password))
	}

	if len(methods) == 0 {
		return nil, errors.New("either a private key or a password is required")
	}

	return methods, nil
}
