package domain

import "os"

// Mount binds a host path into a build stage.
type Mount struct {
	Source   string
	Dest     string
	ReadOnly bool
}

// Secret is passed to a stage through the engine's secret-mount mechanism so
// it never appears in image layers.
type Secret struct {
	ID     string
	Source string
}

// Stage is one container recipe invocation. The bypass socket supplies
// read-only inputs; the output socket is where the stage streams artifacts
// back to the driver.
type Stage struct {
	// Node is the build node this stage executes, used for display.
	Node string

	// Target is the recipe target, e.g. "rpmbuild".
	Target string

	// Args are the build arguments for the target.
	Args map[string]string

	Mounts  []Mount
	Secrets []Secret

	// BypassSocket and OutputSocket are inherited by the engine process.
	BypassSocket *os.File
	OutputSocket *os.File
}
