package remote

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Execute runs command in the remote working directory, forwarding every
// produced stdout/stderr line to sink as it appears. A reader pair streams
// the pipes while a waiter blocks for the exit status; both are joined before
// returning, so no line is dropped or reordered relative to the final
// transcript. After timeout the remote process is killed and ErrExecTimeout
// is returned. A non-zero exit is not an error here: the exit code is the
// caller's to judge.
func (s *Session) Execute(ctx context.Context, command string, sink io.Writer, timeout time.Duration) (int, error) {
	session, err := s.client.NewSession()

	if err != nil {
		return -1, errors.Wrap(err, "open exec channel")
	}

	defer session.Close()

	stdout, err := session.StdoutPipe()

	if err != nil {
		return -1, errors.Wrap(err, "stdout pipe")
	}

	stderr, err := session.StderrPipe()

	if err != nil {
		return -1, errors.Wrap(err, "stderr pipe")
	}

	log.WithField("command", command).Info("executing remote command")

	if err := session.Start(command); err != nil {
		return -1, errors.Wrap(err, "start remote command")
	}

	lw := newLineWriter(sink)

	var readers sync.WaitGroup

	readers.Add(2)

	go func() {
		defer readers.Done()
		_ = forwardLines(stdout, lw)
	}()

	go func() {
		defer readers.Done()
		_ = forwardLines(stderr, lw)
	}()

	waitCh := make(chan error, 1)

	go func() {
		waitCh <- session.Wait()
	}()

	var timer <-chan time.Time

	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case err = <-waitCh:
	case <-timer:
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		readers.Wait()
		return -1, errors.Wrapf(ErrExecTimeout, "command killed after %s", timeout)
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		readers.Wait()
		return -1, ctx.Err()
	}

	readers.Wait()

	if err != nil {
		var exitErr *ssh.ExitError

		if errors.As(err, &exitErr) {
			return exitErr.ExitStatus(), nil
		}

		return -1, errors.Wrap(err, "remote command")
	}

	return 0, nil
}
