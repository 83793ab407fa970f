// Package extraction derives metadata from the content of a single chat
// segment using line-level pattern matching.
//
// The extractor applies four rules:
//   - Participants: the speaker label of every boundary marker at line start
//   - Keywords: all #word tokens, case-folded and deduplicated
//   - Timestamp: the first ISO-8601-like token anywhere in the content
//   - Length: the number of characters (runes) in the content
//
// # Usage
//
// The extractor shares its label rules with the segment scanner so that every
// segment the scanner produces has at least one resolvable speaker:
//
//	scanner, _ := segment.NewScanner(cfg)
//	extractor := extraction.NewExtractor(scanner.Matcher())
//
//	md, err := extractor.Extract(seg.Content)
//
// Extract fails with ErrExtraction when no speaker can be resolved. With a
// shared matcher this only happens for segments whose boundary is a bare
// timestamp bracket; Provisional accepts those and returns metadata without
// participants.
package extraction
