// Package container provides the typed facade over the container engine.
// It builds recipe stages and copies files out of images; it does not
// interpret project semantics.
package container

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"go.trai.ch/zerr"

	"go.trai.ch/twoliter/internal/core/domain"
	"go.trai.ch/twoliter/internal/core/ports"
)

// proxyVars are forwarded to build stages unchanged when set in the
// environment.
var proxyVars = []string{
	"HTTP_PROXY", "http_proxy",
	"HTTPS_PROXY", "https_proxy",
	"NO_PROXY", "no_proxy",
}

var _ ports.Executor = (*Executor)(nil)

// Executor implements ports.Executor by driving the engine CLI.
type Executor struct {
	log ports.Logger

	// engine is the engine CLI binary.
	engine string

	// recipePath is the multi-stage recipe file passed to every build.
	recipePath string

	recipes map[string]Recipe
}

// Option configures an Executor.
type Option func(*Executor)

// WithEngine overrides the engine CLI binary.
func WithEngine(engine string) Option {
	return func(e *Executor) { e.engine = engine }
}

// WithRecipePath sets the recipe file used for stage builds.
func WithRecipePath(path string) Option {
	return func(e *Executor) { e.recipePath = path }
}

// NewExecutor creates an executor for the engine CLI.
func NewExecutor(log ports.Logger, opts ...Option) (*Executor, error) {
	recipes, err := loadRecipes()
	if err != nil {
		return nil, err
	}

	e := &Executor{
		log:        log,
		engine:     "docker",
		recipePath: "Twoliter.dockerfile",
		recipes:    recipes,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RunStage executes one recipe stage and blocks until it exits.
func (e *Executor) RunStage(ctx context.Context, stage *domain.Stage) error {
	args, extraFiles, err := e.stageArgs(stage)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, e.engine, args...) //nolint:gosec // argv built from validated stage
	cmd.Env = os.Environ()
	cmd.ExtraFiles = extraFiles

	// Stage output goes to the node's telemetry vertex when one is
	// recording, otherwise to the logger.
	if vertex, ok := ports.VertexFromContext(ctx); ok {
		cmd.Stdout = vertex.Stdout()
		cmd.Stderr = vertex.Stderr()
	} else {
		cmd.Stdout = &logWriter{logger: e.log, level: "info"}
		cmd.Stderr = &logWriter{logger: e.log, level: "error"}
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		exitCode := -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return zerr.With(zerr.With(domain.ErrStageFailed,
			"target", stage.Target),
			"exit_code", exitCode)
	}
	return nil
}

// stageArgs builds the engine argv for a stage, validating the target and
// its required build arguments against the recipe table.
func (e *Executor) stageArgs(stage *domain.Stage) ([]string, []*os.File, error) {
	recipe, ok := e.recipes[stage.Target]
	if !ok {
		return nil, nil, zerr.With(zerr.New("unknown recipe target"), "target", stage.Target)
	}
	for _, required := range recipe.Args {
		if _, ok := stage.Args[required]; !ok {
			return nil, nil, zerr.With(zerr.With(zerr.New("missing required build argument"),
				"target", stage.Target),
				"arg", required)
		}
	}

	args := []string{
		"build",
		"--file", e.recipePath,
		"--target", stage.Target,
		"--network", "host",
	}

	keys := make([]string, 0, len(stage.Args))
	for k := range stage.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--build-arg", k+"="+stage.Args[k])
	}

	for _, v := range proxyVars {
		if value, set := os.LookupEnv(v); set {
			args = append(args, "--build-arg", v+"="+value)
		}
	}

	for _, mount := range stage.Mounts {
		spec := mount.Dest + "=" + mount.Source
		args = append(args, "--build-context", spec)
	}

	for _, secret := range stage.Secrets {
		args = append(args, "--secret", "id="+secret.ID+",src="+secret.Source)
	}

	// Sockets are inherited by the engine process; file descriptors start
	// at 3 in ExtraFiles order.
	var extraFiles []*os.File
	if recipe.Sockets {
		fd := 3
		if stage.BypassSocket != nil {
			extraFiles = append(extraFiles, stage.BypassSocket)
			args = append(args, "--build-arg", fmt.Sprintf("BYPASS_SOCKET_FD=%d", fd))
			fd++
		}
		if stage.OutputSocket != nil {
			extraFiles = append(extraFiles, stage.OutputSocket)
			args = append(args, "--build-arg", fmt.Sprintf("OUTPUT_SOCKET_FD=%d", fd))
		}
	}

	args = append(args, ".")
	return args, extraFiles, nil
}

// CopyOut reads a file out of an image's filesystem without running it: the
// image is materialized as a stopped container and the path copied out.
func (e *Executor) CopyOut(ctx context.Context, uri domain.ImageURI, path string) ([]byte, error) {
	create := exec.CommandContext(ctx, e.engine, "create", uri.String()) //nolint:gosec // engine binary is configuration
	var idBuf, errBuf bytes.Buffer
	create.Stdout = &idBuf
	create.Stderr = &errBuf
	if err := create.Run(); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to create container"), "stderr", errBuf.String())
	}
	id := strings.TrimSpace(idBuf.String())

	defer func() {
		rm := exec.Command(e.engine, "rm", "-f", id) //nolint:gosec // engine binary is configuration
		if err := rm.Run(); err != nil && e.log != nil {
			e.log.Warn("failed to remove scratch container " + id)
		}
	}()

	cp := exec.CommandContext(ctx, e.engine, "cp", id+":"+path, "-") //nolint:gosec // engine binary is configuration
	var out bytes.Buffer
	cp.Stdout = &out
	cp.Stderr = &errBuf
	if err := cp.Run(); err != nil {
		return nil, zerr.With(zerr.With(zerr.Wrap(err, "failed to copy from container"),
			"path", path),
			"stderr", errBuf.String())
	}

	return extractSingleFile(out.Bytes())
}

type logWriter struct {
	logger ports.Logger
	level  string
}

func (w *logWriter) Write(p []byte) (int, error) {
	if w.logger == nil {
		return len(p), nil
	}
	for _, line := range strings.Split(strings.TrimSuffix(string(p), "\n"), "\n") {
		if w.level == "info" {
			w.logger.Info(line)
		} else {
			w.logger.Error(zerr.New(line))
		}
	}
	return len(p), nil
}
