package remote

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Artifacts is the outcome of a retrieval. Missing files make the result
// partial, not failed: whatever was produced remains useful.
type Artifacts struct {
	Retrieved []string
	Missing   []string
}

func (a Artifacts) Partial() bool {
	return len(a.Missing) > 0
}

// UploadBundle copies the given local files into remoteDir, verifying each
// transfer against the local SHA-256 checksum. Any mismatch is a transfer
// error.
func (s *Session) UploadBundle(ctx context.Context, paths []string, remoteDir string) error {
	if err := s.run(fmt.Sprintf("mkdir -p %s", shellQuote(remoteDir)), nil, nil); err != nil {
		return errors.Wrapf(err, "create remote dir %s", remoteDir)
	}

	for _, localPath := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := os.ReadFile(localPath)

		if err != nil {
			return errors.Wrapf(err, "read %s", localPath)
		}

		remotePath := path.Join(remoteDir, filepath.Base(localPath))

		if err := s.run(fmt.Sprintf("cat > %s", shellQuote(remotePath)), bytes.NewReader(data), nil); err != nil {
			return errors.Wrapf(err, "upload %s", localPath)
		}

		if err := s.verifyUpload(remotePath, data); err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"local":  localPath,
			"remote": remotePath,
			"bytes":  len(data),
		}).Info("file uploaded")
	}

	return nil
}

func (s *Session) verifyUpload(remotePath string, data []byte) error {
	var out bytes.Buffer

	if err := s.run(fmt.Sprintf("sha256sum %s && wc -c < %s", shellQuote(remotePath), shellQuote(remotePath)), nil, &out); err != nil {
		return errors.Wrapf(ErrTransfer, "%s: checksum command failed: %v", remotePath, err)
	}

	fields := strings.Fields(out.String())

	if len(fields) < 3 {
		return errors.Wrapf(ErrTransfer, "%s: unparseable verification output %q", remotePath, out.String())
	}

	sum := sha256.Sum256(data)
	wantSum := hex.EncodeToString(sum[:])
	wantSize := fmt.Sprintf("%d", len(data))

	if fields[0] != wantSum || fields[len(fields)-1] != wantSize {
		return errors.Wrapf(ErrTransfer, "%s: remote %s/%s bytes, local %s/%s bytes",
			remotePath, fields[0], fields[len(fields)-1], wantSum, wantSize)
	}

	return nil
}

// DownloadArtifacts copies result files from the instance into localDir.
// Files the remote side never produced are reported in Artifacts.Missing;
// only a transport-level failure returns an error.
func (s *Session) DownloadArtifacts(ctx context.Context, remotePaths []string, localDir string) (Artifacts, error) {
	var artifacts Artifacts

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return artifacts, errors.Wrapf(err, "create local dir %s", localDir)
	}

	for _, remotePath := range remotePaths {
		if err := ctx.Err(); err != nil {
			return artifacts, err
		}

		localPath := filepath.Join(localDir, path.Base(remotePath))

		out, err := os.Create(localPath)

		if err != nil {
			return artifacts, errors.Wrapf(err, "create %s", localPath)
		}

		runErr := s.run(fmt.Sprintf("cat %s", shellQuote(remotePath)), nil, out)

		if closeErr := out.Close(); runErr == nil && closeErr != nil {
			return artifacts, errors.Wrapf(closeErr, "write %s", localPath)
		}

		if runErr != nil {
			_ = os.Remove(localPath)

			var exitErr *ssh.ExitError

			if errors.As(runErr, &exitErr) {
				log.WithField("remote", remotePath).Warn("expected artifact missing on instance")
				artifacts.Missing = append(artifacts.Missing, remotePath)
				continue
			}

			return artifacts, errors.Wrapf(runErr, "download %s", remotePath)
		}

		artifacts.Retrieved = append(artifacts.Retrieved, localPath)

		log.WithFields(log.Fields{
			"remote": remotePath,
			"local":  localPath,
		}).Info("artifact retrieved")
	}

	return artifacts, nil
}

// ListRemote globs remote paths, for retrieving a whole output directory.
func (s *Session) ListRemote(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out bytes.Buffer

	err := s.run(fmt.Sprintf("ls -1d %s 2>/dev/null || true", pattern), nil, &out)

	if err != nil {
		return nil, errors.Wrapf(err, "list %s", pattern)
	}

	var paths []string

	for _, line := range strings.Split(out.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}

	return paths, nil
}

// run executes one short command in its own SSH channel.
func (s *Session) run(command string, stdin io.Reader, stdout io.Writer) error {
	session, err := s.client.NewSession()

	if err != nil {
		return errors.Wrap(err, "open channel")
	}

	defer session.Close()

	if stdin != nil {
		session.Stdin = stdin
	}

	if stdout != nil {
		session.Stdout = stdout
	}

	return session.Run(command)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
