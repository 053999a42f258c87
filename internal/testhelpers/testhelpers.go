// Package testhelpers provides helpers for testing.
package testhelpers

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const timeout = 10 * time.Second

// ErrTimeout is returned by WithinTimeout when nothing arrives in time.
var ErrTimeout = errors.New("timed out")

// WithinTimeout reads an error from ch, or returns ErrTimeout.
func WithinTimeout(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	case <-time.After(timeout):
		return ErrTimeout
	}
}

// NoErrorN performs require.NoError on multiple errors
func NoErrorN(t *testing.T, errs ...error) {
	for _, err := range errs {
		require.NoError(t, err)
	}
}
