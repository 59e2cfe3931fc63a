// Package apiserver exposes the relay as an OpenAI-compatible HTTP API:
// chat completions (streamed and buffered), speech synthesis, audio
// transcription and a credential liveness probe. Authentication is the
// caller's Hailuo credential passed as a bearer token; a compound token
// carries several comma-separated credentials and one is picked per
// request.
package apiserver
