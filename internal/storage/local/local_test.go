package local

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/htsget-community/htsget-server/internal/storage"
)

func newTestBackend(t *testing.T) (*Backend, string) {
	t.Helper()
	dir := t.TempDir()
	if err := ioutil.WriteFile(filepath.Join(dir, "sample.bam"), []byte("0123456789"), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return New(dir, "http", "localhost:8081", "/data"), dir
}

func TestBackend_Head(t *testing.T) {
	b, _ := newTestBackend(t)

	size, err := b.Head(context.Background(), "sample.bam")
	if err != nil {
		t.Fatalf("Head() returned unexpected error: %v", err)
	}
	if size != 10 {
		t.Errorf("Head() = %d, want 10", size)
	}
}

func TestBackend_Head_NotFound(t *testing.T) {
	b, _ := newTestBackend(t)

	if _, err := b.Head(context.Background(), "missing.bam"); err == nil {
		t.Fatal("Head() succeeded, want NotFound error")
	} else if se, ok := err.(*storage.Error); !ok || se.Kind != storage.NotFound {
		t.Errorf("Head() error = %v, want storage.NotFound", err)
	}
}

func TestBackend_Head_RejectsTraversal(t *testing.T) {
	b, _ := newTestBackend(t)

	if _, err := b.Head(context.Background(), "../etc/passwd"); err == nil {
		t.Fatal("Head() succeeded for a traversal key, want error")
	} else if se, ok := err.(*storage.Error); !ok || se.Kind != storage.PermissionDenied {
		t.Errorf("Head() error = %v, want storage.PermissionDenied", err)
	}
}

func TestBackend_GetRange(t *testing.T) {
	b, _ := newTestBackend(t)

	r, err := b.GetRange(context.Background(), "sample.bam", storage.ByteRange{First: 2, Last: 5})
	if err != nil {
		t.Fatalf("GetRange() returned unexpected error: %v", err)
	}
	defer r.Close()

	data, err := ioutil.ReadAll(r)
	if err != nil {
		t.Fatalf("reading range: %v", err)
	}
	if got, want := string(data), "2345"; got != want {
		t.Errorf("GetRange() = %q, want %q", got, want)
	}
}

func TestBackend_TicketURL(t *testing.T) {
	b, _ := newTestBackend(t)

	url, err := b.TicketURL(context.Background(), "sample.bam", storage.ByteRange{First: 0, Last: 9})
	if err != nil {
		t.Fatalf("TicketURL() returned unexpected error: %v", err)
	}
	if got, want := url.URL, "http://localhost:8081/data/sample.bam"; got != want {
		t.Errorf("TicketURL() = %q, want %q", got, want)
	}
	if got, want := url.Headers["Range"], "bytes=0-9"; got != want {
		t.Errorf("Range header = %q, want %q", got, want)
	}
}

func TestBackend_ResolveRejectsSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	if err := ioutil.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if err := os.Symlink(filepath.Join(outside, "secret"), filepath.Join(dir, "link")); err != nil {
		t.Skipf("symlinks unsupported in this environment: %v", err)
	}

	b := New(dir, "http", "localhost", "/data")
	if _, err := b.Head(context.Background(), "link"); err == nil {
		t.Fatal("Head() succeeded for a symlink escape, want error")
	}
}
