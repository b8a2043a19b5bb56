// Package threadstate tracks the per-thread agent records across thread and
// process lifecycle.
//
// The manager keeps two intrusive doubly-linked lists under one mutex:
// active states, and a death row of states whose owning threads are
// detaching. A state cannot be destroyed the moment its thread detaches —
// the thread is still running its detach notification — so it parks on
// death row until a later scavenge observes the thread terminated.
//
// Guarantees:
//   - Register/Unregister/MarkForDeath/Scavenge never fail.
//   - The scavenge walk runs entirely under the lock; destruction of the
//     unlinked states happens outside it.
//   - Shutdown destroys whatever remains, logging a warning if threads were
//     killed without detaching.
package threadstate
