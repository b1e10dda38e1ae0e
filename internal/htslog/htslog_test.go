package htslog

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew_DefaultsOnBadLevel(t *testing.T) {
	logger := New("not-a-level")
	if logger.GetLevel() != logrus.InfoLevel {
		t.Errorf("GetLevel() = %v, want %v", logger.GetLevel(), logrus.InfoLevel)
	}
}

func TestNew_ParsesLevel(t *testing.T) {
	logger := New("debug")
	if logger.GetLevel() != logrus.DebugLevel {
		t.Errorf("GetLevel() = %v, want %v", logger.GetLevel(), logrus.DebugLevel)
	}
}

func TestWithRequest_AttachesRequestID(t *testing.T) {
	logger := New("info")
	ctx, entry := WithRequest(context.Background(), logger, logrus.Fields{"format": "BAM"})

	if _, ok := entry.Data["request_id"]; !ok {
		t.Errorf("entry is missing request_id field")
	}
	if got, want := entry.Data["format"], "BAM"; got != want {
		t.Errorf("format field = %v, want %v", got, want)
	}

	if Entry(ctx) != entry {
		t.Errorf("Entry(ctx) did not return the attached entry")
	}
}

func TestEntry_WithoutRequest(t *testing.T) {
	if entry := Entry(context.Background()); entry == nil {
		t.Errorf("Entry() returned nil")
	}
}
