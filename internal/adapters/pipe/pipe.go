// Package pipe implements the artifact hand-off channel between the driver
// and container build stages: a socketpair whose stage end is inherited as a
// file descriptor, and a staging directory that is published atomically only
// on success. Intermediate files never land in the build tree, so an
// interrupted build cannot poison the cache.
package pipe

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"go.trai.ch/zerr"
)

// ValidateFunc inspects each arriving artifact by name before it is
// accepted. A non-nil error aborts the transfer.
type ValidateFunc func(name string) error

// OutputChannel receives a stage's artifacts and publishes them only on
// success.
type OutputChannel struct {
	stageEnd  *os.File
	driverEnd *os.File
	staging   string
	final     string
	validate  ValidateFunc
}

// NewOutputChannel creates an output channel publishing into finalDir.
func NewOutputChannel(finalDir string, validate ValidateFunc) (*OutputChannel, error) {
	stageEnd, driverEnd, err := socketPair()
	if err != nil {
		return nil, err
	}

	parent := filepath.Dir(finalDir)
	if err := os.MkdirAll(parent, 0o750); err != nil {
		return nil, zerr.Wrap(err, "failed to create artifact parent directory")
	}
	staging, err := os.MkdirTemp(parent, filepath.Base(finalDir)+".staging-")
	if err != nil {
		return nil, zerr.Wrap(err, "failed to create staging directory")
	}

	return &OutputChannel{
		stageEnd:  stageEnd,
		driverEnd: driverEnd,
		staging:   staging,
		final:     finalDir,
		validate:  validate,
	}, nil
}

// StageFile is the socket end inherited by the build stage.
func (c *OutputChannel) StageFile() *os.File {
	return c.stageEnd
}

// CloseStageEnd closes the driver's copy of the stage socket. Call it once
// the stage process has been started (or has exited): the receive loop only
// sees EOF after every copy of the write end is closed.
func (c *OutputChannel) CloseStageEnd() {
	_ = c.stageEnd.Close()
}

// Receive reads the stage's tar stream into the staging directory,
// validating artifacts as they arrive. It returns when every copy of the
// stage end of the socket is closed.
func (c *OutputChannel) Receive(ctx context.Context) error {
	tr := tar.NewReader(c.driverEnd)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return zerr.Wrap(err, "failed to read artifact stream")
		}

		name := filepath.FromSlash(hdr.Name)
		if strings.Contains(name, "..") || filepath.IsAbs(name) {
			return zerr.With(zerr.New("artifact escapes staging directory"), "name", hdr.Name)
		}
		if c.validate != nil {
			if err := c.validate(hdr.Name); err != nil {
				return zerr.With(err, "name", hdr.Name)
			}
		}

		target := filepath.Join(c.staging, name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return zerr.Wrap(err, "failed to create artifact directory")
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return zerr.Wrap(err, "failed to create artifact directory")
			}
			if err := receiveFile(tr, target, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		}
	}
}

// Publish atomically moves the staged artifacts into the final directory.
// Nothing is visible at the final path until everything arrived.
func (c *OutputChannel) Publish() error {
	_ = c.driverEnd.Close()
	if err := os.RemoveAll(c.final); err != nil {
		return zerr.Wrap(err, "failed to clear artifact directory")
	}
	if err := os.Rename(c.staging, c.final); err != nil {
		return zerr.Wrap(err, "failed to publish artifacts")
	}
	return nil
}

// Discard drops the staged artifacts. The final directory is untouched.
func (c *OutputChannel) Discard() {
	_ = c.driverEnd.Close()
	_ = os.RemoveAll(c.staging)
}

// InputChannel supplies a directory tree to a build stage in read-only mode.
type InputChannel struct {
	stageEnd  *os.File
	driverEnd *os.File
	dir       string
}

// NewInputChannel creates an input channel serving the given directory.
func NewInputChannel(dir string) (*InputChannel, error) {
	stageEnd, driverEnd, err := socketPair()
	if err != nil {
		return nil, err
	}
	return &InputChannel{stageEnd: stageEnd, driverEnd: driverEnd, dir: dir}, nil
}

// StageFile is the socket end inherited by the build stage.
func (c *InputChannel) StageFile() *os.File {
	return c.stageEnd
}

// CloseStageEnd closes the driver's copy of the stage socket.
func (c *InputChannel) CloseStageEnd() {
	_ = c.stageEnd.Close()
}

// Serve streams the directory as a tar archive and closes the channel.
func (c *InputChannel) Serve(ctx context.Context) error {
	defer c.driverEnd.Close() //nolint:errcheck // Best effort close in defer

	tw := tar.NewWriter(c.driverEnd)
	err := filepath.WalkDir(c.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == c.dir || d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(c.dir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		f, err := os.Open(path) //nolint:gosec // path from walked input dir
		if err != nil {
			return err
		}
		defer f.Close() //nolint:errcheck // Best effort close in defer
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		// A stage that exited without draining the channel closes the peer;
		// that is not a serve failure.
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
			return nil
		}
		return zerr.Wrap(err, "failed to serve input directory")
	}
	if err := tw.Close(); err != nil && !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
		return zerr.Wrap(err, "failed to finalize input stream")
	}
	return nil
}

func receiveFile(r io.Reader, target string, mode os.FileMode) error {
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode) //nolint:gosec // path validated against traversal
	if err != nil {
		return zerr.Wrap(err, "failed to create artifact")
	}
	defer f.Close() //nolint:errcheck // Best effort close in defer

	//nolint:gosec // G110: artifact sizes are bounded by build outputs
	if _, err := io.Copy(f, r); err != nil {
		return zerr.Wrap(err, "failed to receive artifact")
	}
	return nil
}

// socketPair returns a connected pair of unix stream sockets as files.
func socketPair() (stageEnd, driverEnd *os.File, err error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, zerr.Wrap(err, "failed to create socket pair")
	}
	return os.NewFile(uintptr(fds[0]), "stage-socket"), os.NewFile(uintptr(fds[1]), "driver-socket"), nil
}
