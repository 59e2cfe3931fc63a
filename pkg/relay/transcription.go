package relay

import (
	"context"

	"github.com/LLM-Red-Team/hailuo-free-api/pkg/hailuo"
)

// transcribePrompt asks the model to read the attached audio back as
// plain text, with nothing else around it.
const transcribePrompt = "user:请把这段音频的内容原样转写成文字，只输出转写结果，不要输出任何其他内容"

// Transcribe uploads the audio and returns its text content.
func (r *Relay) Transcribe(ctx context.Context, credential, filename string, audio []byte) (string, error) {
	handle, err := r.client.File.Upload(ctx, credential, filename, audio)
	if err != nil {
		return "", err
	}

	res, err := r.bufferedTurn(ctx, credential, &hailuo.MessageRequest{
		Content: transcribePrompt,
		FileIDs: []string{handle.ID},
	})
	if err != nil {
		return "", err
	}
	r.scheduleCleanup(credential, res.ChatID, false)
	return res.Content, nil
}
