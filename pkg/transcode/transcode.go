package transcode

import (
	"iter"
	"log/slog"

	"github.com/LLM-Red-Team/hailuo-free-api/pkg/hailuo"
)

// Result is the outcome of transcoding one upstream event stream.
type Result struct {
	// Content is the reconstructed message text, decorations included.
	Content string

	// ChatID and MessageID identify the upstream conversation, for
	// post-completion cleanup. Empty if the stream failed before the
	// upstream assigned them.
	ChatID    string
	MessageID string

	// Finished is true when the upstream closed the message normally
	// (finish or intervene) rather than the stream ending abruptly.
	Finished bool

	// Intervened is true when the message was closed by an intervention.
	Intervened bool

	// Emitted is true when at least one delta reached the caller's emit
	// function (incremental mode only).
	Emitted bool
}

// Buffered consumes the full event sequence and returns the final
// reconstructed content once the stream ends. Any mid-stream error rejects
// the pending result.
func Buffered(events iter.Seq2[*hailuo.MessageEvent, error]) (*Result, error) {
	s := NewState()
	for ev, err := range events {
		if err != nil {
			return nil, err
		}
		if _, done := s.Step(ev); done {
			return s.result(true), nil
		}
	}
	// Stream ended without a terminal event. Return what we have; the
	// caller decides whether a truncated message is acceptable.
	return s.result(false), nil
}

// Incremental consumes the event sequence and invokes emit once per
// accepted textual delta, strictly in arrival order.
//
// A mid-stream error is logged and returned together with the state so
// far; the caller degrades to an end-of-stream sentinel instead of hanging
// (or retries, if nothing was emitted yet). An error returned by emit
// aborts consumption, which closes the underlying session.
func Incremental(events iter.Seq2[*hailuo.MessageEvent, error], emit func(delta string) error) (*Result, error) {
	s := NewState()
	emitted := false
	for ev, err := range events {
		if err != nil {
			slog.Warn("transcode: stream degraded", "err", err, "chat_id", s.ChatID)
			res := s.result(false)
			res.Emitted = emitted
			return res, err
		}

		delta, done := s.Step(ev)
		if delta != "" {
			if err := emit(delta); err != nil {
				res := s.result(false)
				res.Emitted = emitted
				return res, err
			}
			emitted = true
		}
		if done {
			res := s.result(true)
			res.Emitted = emitted
			return res, nil
		}
	}
	res := s.result(false)
	res.Emitted = emitted
	return res, nil
}

func (s *State) result(finished bool) *Result {
	return &Result{
		Content:    s.Content,
		ChatID:     s.ChatID,
		MessageID:  s.MessageID,
		Finished:   finished,
		Intervened: s.Intervened,
	}
}
