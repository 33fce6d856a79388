package ports

import (
	"context"

	"go.trai.ch/twoliter/internal/core/domain"
)

// NodeRunner executes one build node end to end: preparing inputs, running
// its stage through the Executor, and publishing outputs atomically. The
// scheduler only sees this interface.
//
//go:generate go run go.uber.org/mock/mockgen -source=runner.go -destination=mocks/mock_runner.go -package=mocks
type NodeRunner interface {
	Run(ctx context.Context, node *domain.BuildNode) error
}
