// Package local implements the reference local-file storage backend: it
// serves byte ranges from a directory on disk and produces ticket URLs
// pointing at a paired HTTP data server that applies the requested Range
// header.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/htsget-community/htsget-server/internal/storage"
)

// Backend serves objects rooted at Root. Scheme, Authority and PathPrefix
// describe the paired data server a ticket URL should point back at.
type Backend struct {
	Root       string
	Scheme     string
	Authority  string
	PathPrefix string
}

// New returns a local Backend rooted at root. scheme is "http" or "https"
// depending on whether the paired data server is configured with a TLS
// cert/key pair.
func New(root, scheme, authority, pathPrefix string) *Backend {
	return &Backend{Root: root, Scheme: scheme, Authority: authority, PathPrefix: pathPrefix}
}

// resolve maps key to an absolute path under Root, rejecting any key that,
// after normalization, escapes Root via ".." traversal or a symlink.
func (b *Backend) resolve(key string) (string, error) {
	joined := filepath.Join(b.Root, key)
	cleanRoot := filepath.Clean(b.Root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes storage root", key)
	}

	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if os.IsNotExist(err) {
			return joined, nil
		}
		return "", fmt.Errorf("resolving symlinks: %v", err)
	}
	if resolved != cleanRoot && !strings.HasPrefix(resolved, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q resolves outside storage root", key)
	}
	return joined, nil
}

// Head implements storage.Backend.
func (b *Backend) Head(ctx context.Context, key string) (int64, error) {
	path, err := b.resolve(key)
	if err != nil {
		return 0, storage.NewError(storage.PermissionDenied, "local", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, storage.NewError(storage.NotFound, "local", err)
		}
		return 0, storage.NewError(storage.Malformed, "local", err)
	}
	return info.Size(), nil
}

// GetRange implements storage.Backend.
func (b *Backend) GetRange(ctx context.Context, key string, r storage.ByteRange) (io.ReadCloser, error) {
	path, err := b.resolve(key)
	if err != nil {
		return nil, storage.NewError(storage.PermissionDenied, "local", err)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.NewError(storage.NotFound, "local", err)
		}
		return nil, storage.NewError(storage.Malformed, "local", err)
	}
	if _, err := f.Seek(int64(r.First), io.SeekStart); err != nil {
		f.Close()
		return nil, storage.NewError(storage.Malformed, "local", err)
	}
	return &limitedFile{f, io.LimitReader(f, int64(r.Last-r.First+1))}, nil
}

type limitedFile struct {
	f *os.File
	r io.Reader
}

func (l *limitedFile) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedFile) Close() error               { return l.f.Close() }

// TicketURL implements storage.Backend. It returns an HTTP(S) URL at the
// paired data server carrying a Range header the client must apply.
func (b *Backend) TicketURL(ctx context.Context, key string, r storage.ByteRange) (storage.Url, error) {
	if _, err := b.resolve(key); err != nil {
		return storage.Url{}, storage.NewError(storage.PermissionDenied, "local", err)
	}

	url := fmt.Sprintf("%s://%s%s/%s", b.Scheme, b.Authority, b.PathPrefix, key)
	return storage.Url{
		URL: url,
		Headers: map[string]string{
			"Range": fmt.Sprintf("bytes=%d-%d", r.First, r.Last),
		},
	}, nil
}
