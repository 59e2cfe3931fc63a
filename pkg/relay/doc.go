// Package relay bridges OpenAI-shaped API requests onto Hailuo
// conversations. It merges multi-turn histories into single prompts,
// resolves file and image references, drives the event-stream transcoder
// with a bounded retry budget, and implements the voice synthesis and
// transcription pipelines on top of ordinary chat turns.
package relay
