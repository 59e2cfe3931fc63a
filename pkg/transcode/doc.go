// Package transcode reconstructs an ordered, deduplicated message from the
// Hailuo event stream.
//
// The upstream reports progress cumulatively: each event carries the whole
// text produced so far, possibly with unresolved character markers, plus
// structured parts (code blocks, images, search citations, execution
// output) that this package renders as inline decorations. The transcoder
// tracks how many bytes of its output are decoration so it can locate the
// genuinely new suffix of every cumulative payload. That arithmetic lives
// in State.Step, a pure function over an explicit state object.
//
// Two drivers share the same step semantics: Buffered returns one final
// reconstruction, Incremental emits a delta per accepted update.
package transcode
