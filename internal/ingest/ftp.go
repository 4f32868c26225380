package ingest

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPFetcher downloads provider drops over anonymous FTP.
type FTPFetcher struct {
	timeout time.Duration
}

// NewFTPFetcher creates an FTPFetcher. A zero timeout means 30 seconds.
func NewFTPFetcher(timeout time.Duration) *FTPFetcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &FTPFetcher{timeout: timeout}
}

// IsFTP reports whether location is an ftp:// URL.
func IsFTP(location string) bool {
	return strings.HasPrefix(strings.ToLower(location), "ftp://")
}

func parseFTPURL(rawURL string) (host string, filePath string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "ftp: parse url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("ftp: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}
	if u.Path == "" || u.Path == "/" {
		return "", "", eris.New("ftp: empty path in url")
	}
	return host, u.Path, nil
}

type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "ftp: close response")
	}
	return eris.Wrap(quitErr, "ftp: quit")
}

// Download retrieves the file at ftpURL. The caller must close the reader
// to release the connection.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	host, filePath, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("ftp: connecting", zap.String("host", host), zap.String("path", filePath))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "ftp: dial %s", host)
	}
	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "ftp: login")
	}
	resp, err := conn.Retr(filePath)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "ftp: retrieve %s", filePath)
	}
	return &ftpConnReader{resp: resp, conn: conn}, nil
}

// DownloadToTemp copies the remote file into dir and returns the local path.
func (f *FTPFetcher) DownloadToTemp(ctx context.Context, ftpURL, dir string) (string, error) {
	rc, err := f.Download(ctx, ftpURL)
	if err != nil {
		return "", err
	}
	defer rc.Close() //nolint:errcheck

	_, filePath, _ := parseFTPURL(ftpURL)
	file, err := os.CreateTemp(dir, "drop-*"+path.Ext(filePath))
	if err != nil {
		return "", eris.Wrap(err, "ftp: create temp file")
	}
	defer file.Close() //nolint:errcheck

	if _, err := io.Copy(file, rc); err != nil {
		_ = os.Remove(file.Name())
		return "", eris.Wrap(err, "ftp: write temp file")
	}
	return file.Name(), nil
}
