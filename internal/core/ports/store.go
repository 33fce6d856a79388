package ports

import "go.trai.ch/twoliter/internal/core/domain"

// BuildInfoStore persists build records keyed by node name.
//
//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks
type BuildInfoStore interface {
	// Get retrieves the build info for a node. Returns nil, nil if not found.
	Get(nodeName string) (*domain.BuildInfo, error)

	// Put stores the build info.
	Put(info domain.BuildInfo) error
}
