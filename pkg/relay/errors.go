package relay

import "fmt"

// FileValidationError means an attachment could not be resolved: the URL
// was unreachable, malformed, or the payload exceeded the size bound.
// Raised before any upstream stream is opened and never retried.
type FileValidationError struct {
	URL    string
	Reason string
	Err    error
}

func (e *FileValidationError) Error() string {
	return fmt.Sprintf("relay: attachment %s: %s", e.URL, e.Reason)
}

func (e *FileValidationError) Unwrap() error {
	return e.Err
}

// SynthesisTimeoutError means voice synthesis did not complete within the
// polling deadline.
type SynthesisTimeoutError struct {
	MessageID string
}

func (e *SynthesisTimeoutError) Error() string {
	return fmt.Sprintf("relay: synthesis of message %s timed out", e.MessageID)
}

// SynthesisEmptyError means synthesis completed but returned no audio
// segments.
type SynthesisEmptyError struct {
	MessageID string
}

func (e *SynthesisEmptyError) Error() string {
	return fmt.Sprintf("relay: synthesis of message %s returned no audio", e.MessageID)
}

// SynthesisDownloadError means an audio segment download returned a
// non-success status.
type SynthesisDownloadError struct {
	URL string
	Err error
}

func (e *SynthesisDownloadError) Error() string {
	return fmt.Sprintf("relay: audio segment %s: %v", e.URL, e.Err)
}

func (e *SynthesisDownloadError) Unwrap() error {
	return e.Err
}
