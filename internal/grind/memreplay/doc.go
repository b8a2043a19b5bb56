// Package memreplay grinds heap-API trace events into replayable
// stories. Function-name-table entries bind traced function ids to heap
// event types; entry/exit pairs become typed heap events partitioned into
// one plot line per thread; handles that flow between threads become
// causal edges so a replay preserves the recorded allocate-before-free
// ordering.
package memreplay
