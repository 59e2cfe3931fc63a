package transcode

import (
	"strings"

	"github.com/LLM-Red-Team/hailuo-free-api/pkg/hailuo"
)

// invalidMarker flags a position in cumulative text that still awaits a
// later revision (an in-progress multi-byte character boundary). Text up to
// the marker is safe to emit; text from it onward must wait.
const invalidMarker = "�"

// State is the per-stream transcoder state.
//
// Content accumulates everything emitted so far: raw model text plus the
// decorations this package synthesizes (citation lines, image markdown,
// code fences and bodies, execution output, separators). TextOffset counts
// the decoration bytes inside Content. The core invariant is that
// len(Content) - TextOffset always indexes the boundary between
// already-emitted and newly-arrived raw text within the latest cumulative
// text payload; because decorations are absent from the upstream's raw
// text, subtracting them re-aligns the two cursors.
type State struct {
	// Content is the longest accepted output so far.
	Content string

	// TextOffset counts bytes of Content contributed by decorations.
	TextOffset int

	// CodeGenerating is true between a code part's opening and closing
	// fence.
	CodeGenerating bool

	// CodeLen is the length of code already emitted for the open block.
	CodeLen int

	// ToolCall is set after a citation decoration so the next text part
	// is separated by a newline.
	ToolCall bool

	// LastExecutionOutput deduplicates repeated execution_output parts.
	LastExecutionOutput string

	// TextChunkLength holds the consumed raw length of a finished text
	// part, pending the offset shift when the next part begins.
	TextChunkLength int

	// ChatID and MessageID identify the upstream conversation once
	// assigned.
	ChatID    string
	MessageID string

	// Intervened is set when the upstream closed the message with an
	// intervention.
	Intervened bool
}

// NewState returns a fresh per-stream state.
func NewState() *State {
	return &State{}
}

// Step consumes one upstream event and returns the text to emit for it,
// plus whether the event closed the logical message. Step is pure with
// respect to I/O: it never touches the network, which keeps the
// anti-duplication arithmetic testable in isolation.
func (s *State) Step(ev *hailuo.MessageEvent) (string, bool) {
	if ev.Data.ChatID != "" {
		s.ChatID = ev.Data.ChatID
	}
	if ev.Data.MessageID != "" {
		s.MessageID = ev.Data.MessageID
	}

	var b strings.Builder
	for _, part := range ev.Data.MessageContent {
		switch part.Type {
		case hailuo.PartText:
			s.stepText(&b, part)
		case hailuo.PartQuoteResult:
			s.stepQuote(&b, part)
		case hailuo.PartImage:
			s.stepImage(&b, part)
		case hailuo.PartCode:
			s.stepCode(&b, part)
		case hailuo.PartExecutionOutput:
			s.stepExecutionOutput(&b, part)
		}
	}

	if ev.Closed() {
		if ev.Data.MsgStatus == hailuo.MsgStatusIntervene {
			s.Intervened = true
			if ev.Data.InterveneText != "" {
				s.decorate(&b, ev.Data.InterveneText)
			}
		}
		return b.String(), true
	}
	return b.String(), false
}

// stepText emits the new suffix of a cumulative text part.
func (s *State) stepText(b *strings.Builder, part hailuo.MessagePart) {
	if s.ToolCall {
		s.decorate(b, "\n")
		s.ToolCall = false
	}
	if part.Status == hailuo.StatusInit && s.TextChunkLength > 0 {
		s.shiftPart(b)
	}

	raw := part.Content
	start := len(s.Content) - s.TextOffset
	if start >= 0 && start <= len(raw) {
		delta := raw[start:]
		// Emit only up to the first unresolved marker; the remainder
		// arrives revised in a later event.
		if i := strings.Index(delta, invalidMarker); i >= 0 {
			delta = delta[:i]
		}
		b.WriteString(delta)
		s.Content += delta
	}
	// An out-of-range cursor means the upstream sent a shorter cumulative
	// string than previously seen. Protocol violation: empty delta, never
	// a negative-length read.

	if part.Status == hailuo.StatusFinish {
		s.TextChunkLength = len(s.Content) - s.TextOffset
	}
}

// stepQuote renders a finished search citation as a synthetic line.
func (s *State) stepQuote(b *strings.Builder, part hailuo.MessagePart) {
	if part.Status != hailuo.StatusFinish || len(part.Quotes) == 0 {
		return
	}
	var line strings.Builder
	for _, q := range part.Quotes {
		if !isHTTPURL(q.URL) {
			continue
		}
		line.WriteString("检索 ")
		line.WriteString(q.Title)
		line.WriteString("(")
		line.WriteString(q.URL)
		line.WriteString(") ...\n")
	}
	if line.Len() == 0 {
		return
	}
	s.decorate(b, line.String())
	s.ToolCall = true
}

// stepImage renders a finished image part as markdown.
func (s *State) stepImage(b *strings.Builder, part hailuo.MessagePart) {
	if part.Status != hailuo.StatusFinish {
		return
	}
	for _, u := range part.URLs {
		if !isHTTPURL(u) {
			continue
		}
		s.decorate(b, "![图片]("+u+")\n")
	}
}

// stepCode opens the fence on first occurrence and emits pure-append
// deltas beyond the previously-seen code length. Already-sent code is
// never re-rendered.
func (s *State) stepCode(b *strings.Builder, part hailuo.MessagePart) {
	if part.Status == hailuo.StatusInit && !s.CodeGenerating && s.TextChunkLength > 0 {
		s.shiftPart(b)
	}

	switch part.Status {
	case hailuo.StatusInit:
		if !s.CodeGenerating {
			s.CodeGenerating = true
			s.CodeLen = 0
			s.decorate(b, "```"+part.Language+"\n")
		}
		s.appendCode(b, part.Content)
	case hailuo.StatusFinish:
		if !s.CodeGenerating {
			return
		}
		s.appendCode(b, part.Content)
		s.decorate(b, "\n```\n")
		s.CodeGenerating = false
		s.CodeLen = 0
	}
}

func (s *State) appendCode(b *strings.Builder, code string) {
	if s.CodeLen >= len(code) {
		return
	}
	s.decorate(b, code[s.CodeLen:])
	s.CodeLen = len(code)
}

// stepExecutionOutput appends a finished execution result once.
func (s *State) stepExecutionOutput(b *strings.Builder, part hailuo.MessagePart) {
	if part.Status != hailuo.StatusDone || part.Content == "" {
		return
	}
	if part.Content == s.LastExecutionOutput {
		return
	}
	s.LastExecutionOutput = part.Content
	s.decorate(b, part.Content+"\n")
}

// decorate emits text that exists only on our side of the stream. It
// advances Content and TextOffset together so the raw-text cursor is
// unaffected.
func (s *State) decorate(b *strings.Builder, text string) {
	b.WriteString(text)
	s.Content += text
	s.TextOffset += len(text)
}

// shiftPart closes out a finished text part: paragraph break, then the
// cursor moves past the finished part's raw text so the next part's
// cumulative payload indexes from zero.
func (s *State) shiftPart(b *strings.Builder) {
	s.decorate(b, "\n\n")
	s.TextOffset += s.TextChunkLength
	s.TextChunkLength = 0
}

func isHTTPURL(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
