package ports

import "go.trai.ch/twoliter/internal/core/domain"

// Hasher derives cache tokens and content hashes.
//
//go:generate go run go.uber.org/mock/mockgen -source=hasher.go -destination=mocks/mock_hasher.go -package=mocks
type Hasher interface {
	// ComputeNodeToken derives the deterministic cache token for a build
	// node: its definition, argument set, input digests, and the content of
	// its source directories.
	ComputeNodeToken(node *domain.BuildNode) (string, error)

	// ComputeFileHash computes the content hash of one file.
	ComputeFileHash(path string) (uint64, error)
}
