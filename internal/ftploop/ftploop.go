// Package ftploop drives FTP retrievals for the retriever. It fetches single
// files, and with recursion enabled mirrors directory trees. FTP never
// produces redirects in this design.
package ftploop

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/Tamillat/wget/internal/progress"
	"github.com/Tamillat/wget/internal/quota"
	"github.com/Tamillat/wget/internal/transfer"
	"github.com/Tamillat/wget/pkg/types"
)

// maxMirrorDepth bounds directory recursion so a pathological server cannot
// walk us forever.
const maxMirrorDepth = 16

// Options controls FTP fetching behaviour.
type Options struct {
	User      string
	Password  string
	Timeout   time.Duration
	OutputDir string
	Continue  bool
	Progress  progress.Factory
}

// Loop is the file-transfer protocol loop.
type Loop struct {
	opts    Options
	tracker *quota.Tracker
	logger  *slog.Logger
}

// New constructs an FTP loop. tracker may be nil.
func New(opts Options, tracker *quota.Tracker, logger *slog.Logger) *Loop {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.User == "" {
		opts.User = "anonymous"
		opts.Password = "anonymous@"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{opts: opts, tracker: tracker, logger: logger}
}

// Fetch retrieves the resource named by u. A path ending in "/" names a
// directory: its entries are mirrored when recurse is set, otherwise the
// listing itself is saved. recurse is never set for redirect targets.
func (l *Loop) Fetch(ctx context.Context, u *url.URL, recurse bool) (types.Outcome, error) {
	conn, err := l.dial(ctx, u)
	if err != nil {
		return types.Outcome{Status: types.StatusConnError}, err
	}
	defer conn.Quit()

	if strings.HasSuffix(u.Path, "/") {
		return l.fetchDir(conn, u, recurse)
	}
	return l.fetchFile(conn, u.Path, l.localPath(u.Path))
}

func (l *Loop) dial(ctx context.Context, u *url.URL) (*ftp.ServerConn, error) {
	addr := u.Host
	if u.Port() == "" {
		addr = net.JoinHostPort(u.Hostname(), "21")
	}

	conn, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(l.opts.Timeout))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrConnection, err)
	}

	user, pass := l.opts.User, l.opts.Password
	if u.User != nil {
		user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			pass = p
		}
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("login as %q: %w: %v", user, types.ErrConnection, err)
	}
	return conn, nil
}

// fetchFile downloads one remote file to local, resuming from the existing
// file size when configured.
func (l *Loop) fetchFile(conn *ftp.ServerConn, remote, local string) (types.Outcome, error) {
	var restval int64
	if l.opts.Continue {
		if fi, statErr := os.Stat(local); statErr == nil && fi.Mode().IsRegular() {
			restval = fi.Size()
		}
	}

	// The size probe caps the transfer; not every server supports it.
	var expected int64
	expectedValid := false
	if size, sizeErr := conn.FileSize(remote); sizeErr == nil && size >= 0 {
		expected = size
		expectedValid = true
		if restval > size {
			restval = 0
		}
	}

	var resp *ftp.Response
	var err error
	if restval > 0 {
		resp, err = conn.RetrFrom(remote, uint64(restval))
	} else {
		resp, err = conn.Retr(remote)
	}
	if err != nil {
		return types.Outcome{Status: types.StatusWrongCode},
			fmt.Errorf("retrieve %s: %w: %v", remote, types.ErrWrongResponse, err)
	}
	defer resp.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return types.Outcome{Status: types.StatusProtoError}, fmt.Errorf("%w: %v", types.ErrWrite, err)
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if restval > 0 {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}
	f, err := os.OpenFile(local, flags, 0o644)
	if err != nil {
		return types.Outcome{Status: types.StatusProtoError}, fmt.Errorf("%w: %v", types.ErrWrite, err)
	}

	opts := transfer.Options{
		Offset:        restval,
		Expected:      expected,
		ExpectedValid: expectedValid,
	}
	if l.opts.Progress != nil {
		barExpected := int64(-1)
		if expectedValid {
			barExpected = expected
		}
		opts.Progress = l.opts.Progress(restval, barExpected)
	}

	start := time.Now()
	sink := bufio.NewWriter(f)
	n, streamErr := transfer.Stream(bufio.NewReaderSize(resp, 8192), sink, opts)
	if closeErr := f.Close(); closeErr != nil && streamErr == nil {
		streamErr = fmt.Errorf("%w: %v", types.ErrWrite, closeErr)
	}
	if l.tracker != nil && n > restval {
		l.tracker.Increase(uint64(n - restval))
	}
	if streamErr != nil {
		return types.Outcome{Status: types.StatusConnError}, streamErr
	}

	l.logger.Info("saved",
		"url", remote,
		"file", local,
		"bytes", n,
		"rate", progress.Rate(n-restval, time.Since(start).Milliseconds(), false),
	)
	return types.Outcome{
		Status:    types.StatusOK,
		LocalFile: local,
		Flags:     types.DocFlags{Succeeded: true},
	}, nil
}

// fetchDir either mirrors the directory (recurse) or saves its listing.
func (l *Loop) fetchDir(conn *ftp.ServerConn, u *url.URL, recurse bool) (types.Outcome, error) {
	if recurse {
		if err := l.mirror(conn, u.Path, 0); err != nil {
			return types.Outcome{Status: types.StatusProtoError}, err
		}
		return types.Outcome{Status: types.StatusOK, Flags: types.DocFlags{Succeeded: true}}, nil
	}
	return l.saveListing(conn, u.Path)
}

func (l *Loop) mirror(conn *ftp.ServerConn, dir string, depth int) error {
	if depth > maxMirrorDepth {
		return fmt.Errorf("directory nesting exceeds %d at %s", maxMirrorDepth, dir)
	}
	entries, err := conn.List(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w: %v", dir, types.ErrWrongResponse, err)
	}

	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		remote := path.Join(dir, entry.Name)
		switch entry.Type {
		case ftp.EntryTypeFile:
			if _, err := l.fetchFile(conn, remote, l.localPath(remote)); err != nil {
				l.logger.Warn("mirror entry failed", "path", remote, "error", err)
			}
		case ftp.EntryTypeFolder:
			if err := l.mirror(conn, remote+"/", depth+1); err != nil {
				l.logger.Warn("mirror subdirectory failed", "path", remote, "error", err)
			}
		}
	}
	return nil
}

// saveListing writes the raw directory listing to a .listing file, the way
// a non-recursive directory fetch is expected to behave.
func (l *Loop) saveListing(conn *ftp.ServerConn, dir string) (types.Outcome, error) {
	entries, err := conn.List(dir)
	if err != nil {
		return types.Outcome{Status: types.StatusWrongCode},
			fmt.Errorf("list %s: %w: %v", dir, types.ErrWrongResponse, err)
	}

	local := filepath.Join(l.opts.OutputDir, ".listing")
	f, err := os.Create(local)
	if err != nil {
		return types.Outcome{Status: types.StatusProtoError}, fmt.Errorf("%w: %v", types.ErrWrite, err)
	}
	defer f.Close()

	for _, entry := range entries {
		line := fmt.Sprintf("%s\t%d\t%s\n", entry.Name, entry.Size, entry.Time.Format(time.RFC3339))
		if _, err := f.WriteString(line); err != nil {
			return types.Outcome{Status: types.StatusProtoError}, fmt.Errorf("%w: %v", types.ErrWrite, err)
		}
	}
	return types.Outcome{
		Status:    types.StatusOK,
		LocalFile: local,
		Flags:     types.DocFlags{Succeeded: true},
	}, nil
}

func (l *Loop) localPath(remote string) string {
	name := path.Base(remote)
	if name == "" || name == "." || name == "/" {
		name = "index"
	}
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	return filepath.Join(l.opts.OutputDir, name)
}
