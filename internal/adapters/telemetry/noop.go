// Package telemetry provides implementations of the progress event stream.
package telemetry

import (
	"context"
	"io"

	"go.trai.ch/twoliter/internal/core/ports"
)

// NoOp is a telemetry implementation that discards all events. It is used in
// tests and when progress output is disabled.
type NoOp struct{}

// NewNoOp creates a new NoOp telemetry.
func NewNoOp() *NoOp {
	return &NoOp{}
}

// Record returns a vertex that discards everything.
func (n *NoOp) Record(ctx context.Context, _ string) (context.Context, ports.Vertex) {
	v := &noopVertex{}
	return ports.ContextWithVertex(ctx, v), v
}

// Close does nothing.
func (n *NoOp) Close() error { return nil }

type noopVertex struct{}

func (v *noopVertex) Stdout() io.Writer { return io.Discard }
func (v *noopVertex) Stderr() io.Writer { return io.Discard }
func (v *noopVertex) Cached()           {}
func (v *noopVertex) Complete(error)    {}
