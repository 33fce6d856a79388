// Package scheduler implements the build graph driver: a topological walk
// with bounded parallelism, cache tokens, and cancellation.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.trai.ch/zerr"

	"go.trai.ch/twoliter/internal/core/domain"
	"go.trai.ch/twoliter/internal/core/ports"
)

// NodeStatus represents the state of a build node.
type NodeStatus string

const (
	// StatusPending indicates the node is waiting for its dependencies.
	StatusPending NodeStatus = "Pending"
	// StatusRunning indicates the node is currently executing.
	StatusRunning NodeStatus = "Running"
	// StatusSucceeded indicates the node finished and published its outputs.
	StatusSucceeded NodeStatus = "Succeeded"
	// StatusCached indicates the node was reused from a matching cache token.
	StatusCached NodeStatus = "Cached"
	// StatusFailed indicates the node's execution failed.
	StatusFailed NodeStatus = "Failed"
	// StatusSkipped indicates the node was not run because a dependency
	// failed.
	StatusSkipped NodeStatus = "Skipped"
	// StatusCancelled indicates the node was stopped, or never started,
	// because the operation was cancelled.
	StatusCancelled NodeStatus = "Cancelled"
)

// Scheduler executes the nodes of a build graph.
type Scheduler struct {
	runner    ports.NodeRunner
	hasher    ports.Hasher
	store     ports.BuildInfoStore
	telemetry ports.Telemetry

	mu     sync.RWMutex
	status map[string]NodeStatus
}

// NewScheduler creates a scheduler executing nodes through the given runner.
func NewScheduler(runner ports.NodeRunner, hasher ports.Hasher, store ports.BuildInfoStore, telemetry ports.Telemetry) *Scheduler {
	return &Scheduler{
		runner:    runner,
		hasher:    hasher,
		store:     store,
		telemetry: telemetry,
		status:    make(map[string]NodeStatus),
	}
}

// Statuses returns a snapshot of every node's status.
func (s *Scheduler) Statuses() map[string]NodeStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]NodeStatus, len(s.status))
	for name, status := range s.status {
		out[name] = status
	}
	return out
}

func (s *Scheduler) updateStatus(name string, status NodeStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[name] = status
}

func (s *Scheduler) getStatus(name string) NodeStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status[name]
}

// Run executes the graph with the specified parallelism. The graph must
// already validate. Failed nodes are terminal: their dependents are reported
// as skipped, peers continue. Cancellation marks unstarted work Cancelled and
// is never turned into a failure.
func (s *Scheduler) Run(ctx context.Context, graph *domain.Graph, parallelism int) error {
	if err := graph.Validate(); err != nil {
		return err
	}

	state := s.newRunState(ctx, graph, parallelism)

	for node := range graph.Walk() {
		s.updateStatus(node.Name, StatusPending)
	}

	for !state.isDone() {
		state.schedule()

		if state.isDone() {
			break
		}

		if state.ctx.Err() != nil {
			if state.active == 0 {
				break
			}
			// Drain in-flight work after cancellation.
			state.handleResult(<-state.resultsCh)
			continue
		}

		select {
		case res := <-state.resultsCh:
			state.handleResult(res)
		case <-state.ctx.Done():
		}
	}

	state.markUnstarted()

	if state.ctx.Err() != nil {
		state.errs = errors.Join(state.errs, state.ctx.Err())
	}
	return state.errs
}

type result struct {
	node string
	err  error
}

type runState struct {
	graph       *domain.Graph
	inDegree    map[string]int
	nodes       map[string]domain.BuildNode
	ready       []string
	active      int
	resultsCh   chan result
	errs        error
	ctx         context.Context
	parallelism int
	s           *Scheduler
}

func (s *Scheduler) newRunState(ctx context.Context, graph *domain.Graph, parallelism int) *runState {
	nodeCount := graph.NodeCount()
	inDegree := make(map[string]int, nodeCount)
	nodes := make(map[string]domain.BuildNode, nodeCount)

	for node := range graph.Walk() {
		nodes[node.Name] = node
		inDegree[node.Name] = len(node.Requires)
	}

	var ready []string
	for node := range graph.Walk() {
		if inDegree[node.Name] == 0 {
			ready = append(ready, node.Name)
		}
	}

	if parallelism < 1 {
		parallelism = 1
	}

	return &runState{
		graph:       graph,
		inDegree:    inDegree,
		nodes:       nodes,
		ready:       ready,
		resultsCh:   make(chan result, parallelism),
		ctx:         ctx,
		parallelism: parallelism,
		s:           s,
	}
}

func (state *runState) isDone() bool {
	return state.active == 0 && len(state.ready) == 0
}

func (state *runState) schedule() {
	for len(state.ready) > 0 && state.active < state.parallelism && state.ctx.Err() == nil {
		name := state.ready[0]
		state.ready = state.ready[1:]

		state.active++
		state.s.updateStatus(name, StatusRunning)

		go func(node domain.BuildNode) {
			state.resultsCh <- result{node: node.Name, err: state.executeWithCache(state.ctx, &node)}
		}(state.nodes[name])
	}
}

// executeWithCache reuses artifacts when the node's cache token matches the
// recorded build, and runs the node otherwise.
func (state *runState) executeWithCache(ctx context.Context, node *domain.BuildNode) error {
	ctx, vertex := state.s.telemetry.Record(ctx, node.Name)

	token, err := state.s.hasher.ComputeNodeToken(node)
	if err != nil {
		vertex.Complete(err)
		return err
	}

	info, err := state.s.store.Get(node.Name)
	if err == nil && info != nil && info.Token == token {
		state.s.updateStatus(node.Name, StatusCached)
		vertex.Cached()
		vertex.Complete(nil)
		return nil
	}

	if err := state.s.runner.Run(ctx, node); err != nil {
		vertex.Complete(err)
		return err
	}

	err = state.s.store.Put(domain.BuildInfo{
		NodeName:  node.Name,
		Token:     token,
		Outputs:   []string{node.OutputDir},
		Timestamp: time.Now(),
	})
	vertex.Complete(err)
	return err
}

func (state *runState) handleResult(res result) {
	state.active--

	if res.err != nil {
		if state.ctx.Err() != nil || errors.Is(res.err, context.Canceled) {
			state.s.updateStatus(res.node, StatusCancelled)
			return
		}

		state.errs = errors.Join(state.errs,
			zerr.With(zerr.Wrap(res.err, "node execution failed"), "node", res.node))
		state.s.updateStatus(res.node, StatusFailed)
		state.skipDependents(res.node)
		return
	}

	if state.s.getStatus(res.node) != StatusCached {
		state.s.updateStatus(res.node, StatusSucceeded)
	}
	for _, dep := range state.graph.Dependents(res.node) {
		state.inDegree[dep]--
		if state.inDegree[dep] == 0 && state.s.getStatus(dep) == StatusPending {
			state.ready = append(state.ready, dep)
		}
	}
}

// skipDependents transitively marks everything downstream of a failed node.
func (state *runState) skipDependents(name string) {
	for _, dep := range state.graph.Dependents(name) {
		if state.s.getStatus(dep) == StatusPending {
			state.s.updateStatus(dep, StatusSkipped)
			state.skipDependents(dep)
		}
	}
}

// markUnstarted resolves the status of nodes that never ran: cancelled when
// the context ended, otherwise left as skipped from a failed dependency.
func (state *runState) markUnstarted() {
	if state.ctx.Err() == nil {
		return
	}
	for name := range state.nodes {
		if state.s.getStatus(name) == StatusPending {
			state.s.updateStatus(name, StatusCancelled)
		}
	}
}
