package relay

import (
	"regexp"
	"strings"
)

// attachmentBias is inserted as a synthetic system turn right before the
// latest user message when it carries an attachment. The upstream tends to
// ignore trailing non-text content in long threads; an explicit instruction
// pulls its attention back.
const attachmentBias = "关注用户最新发送的文件和消息"

var (
	// markdownImageRe strips rendered image links from merged history so
	// the model does not hallucinate continuations of them.
	markdownImageRe = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)

	// sandboxPathRe strips sandboxed file paths echoed by earlier turns.
	sandboxPathRe = regexp.MustCompile(`\((?:sandbox|/mnt/data)[^)]*\)`)
)

// prepareMessages merges a multi-turn message history into one
// upstream-compatible payload.
//
// When a reference conversation id is supplied (continuing a thread) or
// fewer than two messages exist, bodies are concatenated without role
// markers. Otherwise the history is serialized with explicit role markers,
// with the attachment-bias instruction inserted before the latest user turn
// when it carries a file or image. Rendered image links and sandbox paths
// are stripped from the merged text in both modes.
func prepareMessages(messages []Message, conversationID string) string {
	var b strings.Builder
	if conversationID != "" || len(messages) < 2 {
		for _, m := range messages {
			b.WriteString(m.Content.PlainText())
			b.WriteString("\n")
		}
	} else {
		last := len(messages) - 1
		for i, m := range messages {
			if i == last && hasAttachment(m) {
				b.WriteString("system:")
				b.WriteString(attachmentBias)
				b.WriteString("\n")
			}
			role := m.Role
			if role == "" {
				role = "user"
			}
			b.WriteString(role)
			b.WriteString(":")
			b.WriteString(m.Content.PlainText())
			b.WriteString("\n")
		}
	}

	merged := markdownImageRe.ReplaceAllString(b.String(), "")
	merged = sandboxPathRe.ReplaceAllString(merged, "")
	return strings.TrimSuffix(merged, "\n")
}

// hasAttachment reports whether the message carries a file or image part.
func hasAttachment(m Message) bool {
	for _, p := range m.Content.Parts {
		if p.Type == "file" || p.Type == "image_url" {
			return true
		}
	}
	return false
}

// attachments collects the file and image URLs of the latest message.
func attachments(messages []Message) []string {
	if len(messages) == 0 {
		return nil
	}
	var urls []string
	for _, p := range messages[len(messages)-1].Content.Parts {
		switch {
		case p.Type == "file" && p.FileURL != nil && p.FileURL.URL != "":
			urls = append(urls, p.FileURL.URL)
		case p.Type == "image_url" && p.ImageURL != nil && p.ImageURL.URL != "":
			urls = append(urls, p.ImageURL.URL)
		}
	}
	return urls
}
