// Package compaction implements context compaction (C6): summarizing the
// conversation log when the context window fills, plus ACD (Asynchronous
// Context Dehydration) fragment stubs that let a model request a previously
// dehydrated range back on demand. Grounded in g3-core's compaction.rs and
// acd.rs.
package compaction
