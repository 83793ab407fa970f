// Package segment splits plain-text chat transcripts into conversation
// segments.
//
// A segment starts at a line that carries a boundary marker and runs up to
// (but not including) the next such line. Two marker shapes are recognized at
// line start:
//
//	Me: hello there                 speaker marker (label followed by a colon)
//	[2024-05-01 10:30] Me: hello    timestamp bracket (ISO-8601-like date)
//
// Speaker labels come from the configured label list (case-insensitive) and,
// when Config.AnyLabel is set, from any short identifier-like token.
//
// # Streaming
//
// The Scanner reads its input in fixed-size chunks and hands each finished
// segment to a callback, so memory stays proportional to the chunk size plus
// the largest segment rather than to the input size. Only an incomplete
// trailing line is carried from one chunk to the next, which guarantees a
// marker is never split across a chunk edge. The context is checked once per
// chunk.
//
// # Offsets
//
// Segment offsets are byte offsets into the input. Segments are contiguous
// and non-overlapping, and concatenating their Content in order reproduces
// the input exactly. Whitespace-only lines before the first marker are folded
// into the first segment; any other text before the first marker is a
// FormatError.
package segment
