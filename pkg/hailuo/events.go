package hailuo

// Message part types as they appear in the upstream event stream.
const (
	PartText            = "text"
	PartCode            = "code"
	PartImage           = "image"
	PartQuoteResult     = "quote_result"
	PartExecutionOutput = "execution_output"
)

// Part statuses.
const (
	StatusInit   = "init"
	StatusFinish = "finish"
	StatusDone   = "done"
)

// Message-level statuses.
const (
	MsgStatusRunning   = "running"
	MsgStatusFinish    = "finish"
	MsgStatusIntervene = "intervene"
)

// StatusInfo is the status envelope carried by every upstream event.
type StatusInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Quote is a single search citation inside a quote_result part.
type Quote struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// MessagePart is one structured piece of an in-progress message.
//
// Text parts carry the entire raw model text produced so far (cumulative,
// not incremental); positions that still await a later revision are marked
// with U+FFFD. Code parts carry the code block produced so far. Image and
// quote parts arrive once, with status "finish".
type MessagePart struct {
	Type     string   `json:"type"`
	Status   string   `json:"status"`
	Content  string   `json:"content,omitempty"`
	Language string   `json:"language,omitempty"`
	URLs     []string `json:"urls,omitempty"`
	Quotes   []Quote  `json:"quotes,omitempty"`
}

// MessageData is the payload of one streamed message event.
type MessageData struct {
	MessageID      string        `json:"messageID"`
	ChatID         string        `json:"chatID"`
	MsgStatus      string        `json:"msgStatus"`
	MessageContent []MessagePart `json:"messageContent,omitempty"`
	InterveneText  string        `json:"interveneText,omitempty"`
}

// MessageEvent is one JSON-encoded server-sent event from the chat stream.
type MessageEvent struct {
	StatusInfo *StatusInfo `json:"statusInfo,omitempty"`
	Data       MessageData `json:"data"`
}

// Closed reports whether this event terminates the logical message.
func (e *MessageEvent) Closed() bool {
	return e.Data.MsgStatus == MsgStatusFinish || e.Data.MsgStatus == MsgStatusIntervene
}
