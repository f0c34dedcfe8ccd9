// Package veo talks to the remote video-generation API. The core depends
// only on the three-operation Client contract; the HTTP implementation is
// the single place that knows the wire format.
package veo

import (
	"context"
	"io"

	"veogen/internal/state"
)

// OperationStatus is one observation of a remote generation operation.
type OperationStatus struct {
	// Done reports whether the operation reached a terminal outcome.
	Done bool
	// Videos holds the result references once Done with success.
	Videos []state.Video
	// Failure is set once Done with a remote error.
	Failure *state.Failure
	// Progress is an optional human-readable marker for in-flight polls.
	Progress string
}

// Client is the surface the worker and retrieval service need from the
// generation API: submit a job, poll its operation, fetch result bytes.
type Client interface {
	Submit(ctx context.Context, p state.Params) (operation string, err error)
	Poll(ctx context.Context, operation string) (*OperationStatus, error)
	Fetch(ctx context.Context, video state.Video, w io.Writer) error
}
