// Package storage persists download state and manages segment files.
//
// Task metadata is stored as one indented JSON object per task, named
// <id>.json, in a gocloud.dev blob bucket. Any bucket URL with a registered
// driver works:
//
//	file:///var/lib/dlm/metadata
//	mem://
//	s3://bucket?region=us-east-1
//	gs://bucket
//
// Segment data always lives on the local filesystem, because segment files
// are appended to and truncated in place:
//
//	<tempDir>/<task id>/segment_<index>.tmp
//
// # Crash consistency
//
// A segment's downloaded counter is advanced only after its bytes are
// written, so after a crash the file can be at most one chunk ahead of the
// persisted record. Reconcile therefore trusts the file length, truncating
// anything past the segment boundary.
package storage
