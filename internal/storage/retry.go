package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/htsget-community/htsget-server/internal/metrics"
)

// backoff is the fixed schedule used for Transient storage errors: up to 4
// attempts total (the first try plus 3 retries), waiting 50ms then 150ms
// then 450ms between them.
var backoff = []time.Duration{
	50 * time.Millisecond,
	150 * time.Millisecond,
	450 * time.Millisecond,
}

// Retrying wraps a Backend so that operations failing with a Transient
// error are retried with the fixed backoff schedule before giving up.
type Retrying struct {
	Backend
	Name string
	Log  *logrus.Entry
}

// NewRetrying wraps backend, labeling its metrics and log lines with name.
func NewRetrying(backend Backend, name string, log *logrus.Entry) *Retrying {
	return &Retrying{Backend: backend, Name: name, Log: log}
}

func (r *Retrying) Head(ctx context.Context, key string) (int64, error) {
	var size int64
	err := r.retry(ctx, "head", func() error {
		var err error
		size, err = r.Backend.Head(ctx, key)
		return err
	})
	return size, err
}

func (r *Retrying) GetRange(ctx context.Context, key string, br ByteRange) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := r.retry(ctx, "get_range", func() error {
		var err error
		rc, err = r.Backend.GetRange(ctx, key, br)
		return err
	})
	return rc, err
}

func (r *Retrying) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			if attempt > 0 {
				metrics.StorageRetries.WithLabelValues(r.Name, "recovered").Inc()
			}
			return nil
		}

		var se *Error
		if !errors.As(err, &se) || se.Kind != Transient || attempt >= len(backoff) {
			if attempt > 0 {
				metrics.StorageRetries.WithLabelValues(r.Name, "exhausted").Inc()
			}
			return err
		}

		if r.Log != nil {
			r.Log.WithError(err).WithField("attempt", attempt+1).Debugf("retrying %s after transient storage error", op)
		}

		select {
		case <-time.After(backoff[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
