// Package contextwindow implements the ordered message log, token
// accounting, and progressive thinning described by the agent turn engine's
// context window component (C2).
//
// A Window owns the conversation in the order the model saw it. Every other
// component treats a Window's snapshot as read-only; only the turn engine
// task appends to it.
package contextwindow
