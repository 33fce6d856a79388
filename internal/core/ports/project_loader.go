// Package ports defines the core interfaces for the application.
package ports

import "go.trai.ch/twoliter/internal/core/domain"

// ProjectLoader loads and validates a project from disk.
//
//go:generate go run go.uber.org/mock/mockgen -source=project_loader.go -destination=mocks/mock_project_loader.go -package=mocks
type ProjectLoader interface {
	// Load reads the project manifest at the given path.
	Load(path string) (*domain.Project, error)

	// Find searches startDir and its ancestors for Twoliter.toml and loads
	// the first one found. Returns domain.ErrProjectNotFound if the search
	// reaches the filesystem root.
	Find(startDir string) (*domain.Project, error)
}
