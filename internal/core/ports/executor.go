package ports

import (
	"context"

	"go.trai.ch/twoliter/internal/core/domain"
)

// Executor runs container recipe stages. It is a thin typed wrapper over the
// engine and does not interpret project semantics.
//
//go:generate go run go.uber.org/mock/mockgen -source=executor.go -destination=mocks/mock_executor.go -package=mocks
type Executor interface {
	// RunStage executes one recipe stage and blocks until it exits.
	// A non-zero exit is reported as domain.ErrStageFailed with the exit
	// code attached.
	RunStage(ctx context.Context, stage *domain.Stage) error

	// CopyOut reads a file out of an image's filesystem without running it.
	CopyOut(ctx context.Context, uri domain.ImageURI, path string) ([]byte, error)
}
