// Package assembly owns the frame reassembly state machine.
//
// Ownership boundary:
// - the bounded table of in-flight frames
// - chunk application, duplicate and range rejection
// - completion ordering and stale/overflow eviction
//
// The table is mutated by exactly one logical owner at a time (the
// transport's receive loop); it carries no locking of its own. Loss
// degrades per frame: an incomplete frame ages out and is discarded,
// the session keeps going.
package assembly
