package export

import (
	"context"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Uploader stores export files on an FTP server.
type Uploader struct {
	timeout time.Duration
	log     *zap.Logger
}

// NewUploader creates an Uploader. A zero timeout means 30 seconds.
func NewUploader(timeout time.Duration, log *zap.Logger) *Uploader {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Uploader{timeout: timeout, log: log}
}

type ftpTarget struct {
	host, user, pass, path string
}

// parseFTPURL splits an ftp:// URL into address, credentials and remote
// path. Credentials default to anonymous.
func parseFTPURL(rawURL string) (ftpTarget, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ftpTarget{}, eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return ftpTarget{}, eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}
	t := ftpTarget{host: u.Host, user: "anonymous", pass: "anonymous@", path: u.Path}
	if _, _, splitErr := net.SplitHostPort(t.host); splitErr != nil {
		t.host = net.JoinHostPort(t.host, "21")
	}
	if u.User != nil {
		t.user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			t.pass = p
		}
	}
	if t.path == "" {
		return ftpTarget{}, eris.New("empty path in ftp url")
	}
	return t, nil
}

// Upload stores the local file at ftpURL. A URL path ending in "/" names a
// directory and the file keeps its base name. It returns the remote path.
func (u *Uploader) Upload(ctx context.Context, ftpURL, localPath string) (string, error) {
	target, err := parseFTPURL(ftpURL)
	if err != nil {
		return "", err
	}
	remote := target.path
	if strings.HasSuffix(remote, "/") {
		remote = path.Join(remote, filepath.Base(localPath))
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", eris.Wrap(err, "open export file")
	}
	defer f.Close()

	u.log.Debug("ftp: connecting", zap.String("host", target.host), zap.String("path", remote))
	conn, err := ftp.Dial(target.host, ftp.DialWithTimeout(u.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return "", eris.Wrap(err, "ftp dial")
	}
	defer func() { _ = conn.Quit() }()

	if err := conn.Login(target.user, target.pass); err != nil {
		return "", eris.Wrap(err, "ftp login")
	}
	if err := conn.Stor(remote, f); err != nil {
		return "", eris.Wrapf(err, "ftp store %s", remote)
	}

	u.log.Info("ftp: uploaded export", zap.String("host", target.host), zap.String("path", remote))
	return remote, nil
}
