package domain

import "time"

// BuildInfo records one completed build of a node. Two nodes with identical
// tokens must produce byte-identical outputs, so a matching token means the
// recorded artifacts can be reused as-is.
type BuildInfo struct {
	// NodeName is the graph node the record belongs to.
	NodeName string `json:"node_name"`

	// Token is the cache token derived from the node's inputs.
	Token string `json:"token"`

	// Outputs lists the directories the node published its artifacts to.
	Outputs []string `json:"outputs,omitempty"`

	// Timestamp is when the artifacts were published.
	Timestamp time.Time `json:"timestamp"`
}
