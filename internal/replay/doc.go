// Package replay provides the causality primitives for replaying recorded
// heap activity: manual-reset causal links, linked events carrying
// happens-before edges, plot lines played in order by one goroutine each,
// and the Story that ties the lines together and plays them against a
// heap backdrop.
//
// Cross-line ordering is expressed only through causal edges. Two events
// on different plot lines with no edge between them may replay in either
// order; two events joined by an edge always replay in edge order, no
// matter how the runners are scheduled.
package replay
