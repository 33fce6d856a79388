// Package wiring registers all Graft nodes for the application.
package wiring

import (
	// Register adapter nodes.
	_ "go.trai.ch/twoliter/internal/adapters/config"
	_ "go.trai.ch/twoliter/internal/adapters/container"
	_ "go.trai.ch/twoliter/internal/adapters/fs"
	_ "go.trai.ch/twoliter/internal/adapters/logger"
	_ "go.trai.ch/twoliter/internal/adapters/oci"
	_ "go.trai.ch/twoliter/internal/adapters/telemetry/progrock"
	// Register the app node.
	_ "go.trai.ch/twoliter/internal/app"
)
