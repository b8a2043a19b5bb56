// Package calltrace grinds parsed trace events into per-process call
// timelines. It accepts full-fidelity entry/exit records as well as
// batched entries, fans the batches out with their per-call tick offsets,
// and produces a deterministically ordered call list per process.
package calltrace
