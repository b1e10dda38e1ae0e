package gcs

import (
	"errors"
	"net/http"
	"testing"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	htstorage "github.com/htsget-community/htsget-server/internal/storage"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want htstorage.ErrorKind
	}{
		{"not exist", storage.ErrObjectNotExist, htstorage.NotFound},
		{"unauthorized", &googleapi.Error{Code: http.StatusUnauthorized}, htstorage.PermissionDenied},
		{"forbidden", &googleapi.Error{Code: http.StatusForbidden}, htstorage.PermissionDenied},
		{"other googleapi error", &googleapi.Error{Code: http.StatusInternalServerError}, htstorage.Transient},
		{"generic error", errors.New("timeout"), htstorage.Transient},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err, ok := classify(tc.err).(*htstorage.Error)
			if !ok {
				t.Fatalf("classify() did not return a *storage.Error")
			}
			if err.Kind != tc.want {
				t.Errorf("classify() Kind = %v, want %v", err.Kind, tc.want)
			}
		})
	}
}
