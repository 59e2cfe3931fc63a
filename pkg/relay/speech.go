package relay

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/LLM-Red-Team/hailuo-free-api/pkg/hailuo"
)

const (
	// DefaultSynthesisTimeout bounds the status polling loop.
	DefaultSynthesisTimeout = 30 * time.Second

	// DefaultPollInterval is the delay between status polls.
	DefaultPollInterval = time.Second
)

// repeatPrompt makes the model echo the input verbatim, which yields a
// message handle carrying exactly the text to synthesize.
const repeatPrompt = "user:请你重复一句话，不要说任何其他内容，也不要加任何标点修饰：%s"

// openaiVoices lists the OpenAI voice names in mapping order.
var openaiVoices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// defaultPersonas are the upstream persona ids the voices map to, in the
// same order as openaiVoices.
var defaultPersonas = []string{
	"male-qn-qingse",
	"female-shaonv",
	"audiobook_male_1",
	"male-qn-jingying",
	"female-chengshu",
	"female-tianmei",
}

// voiceMapper resolves an OpenAI voice name to an upstream persona id.
// Overrides apply positionally; missing entries fall back to the defaults.
type voiceMapper struct {
	personas map[string]string
}

func newVoiceMapper(overrides []string) *voiceMapper {
	m := &voiceMapper{personas: make(map[string]string, len(openaiVoices))}
	for i, voice := range openaiVoices {
		if i < len(overrides) && overrides[i] != "" {
			m.personas[voice] = overrides[i]
		} else {
			m.personas[voice] = defaultPersonas[i]
		}
	}
	return m
}

func (m *voiceMapper) persona(voice string) string {
	if p, ok := m.personas[voice]; ok {
		return p
	}
	return m.personas[openaiVoices[0]]
}

// credentialLocks serializes voice synthesis per credential. The upstream
// keeps persona state per account, so concurrent switches would corrupt
// each other's synthesis.
type credentialLocks struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

func newCredentialLocks() *credentialLocks {
	return &credentialLocks{locks: make(map[string]*semaphore.Weighted)}
}

func (l *credentialLocks) get(credential string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.locks[credential]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.locks[credential] = sem
	}
	return sem
}

// Speech synthesizes the request input as one MP3 byte stream.
func (r *Relay) Speech(ctx context.Context, credential string, req *SpeechRequest) ([]byte, error) {
	// A repeat-back turn gives us a message handle whose text is the
	// input, without depending on any prior conversation.
	res, err := r.completionResult(ctx, credential, &ChatRequest{
		Model:    req.Model,
		Messages: []Message{{Role: "user", Content: MessageContent{Text: fmt.Sprintf(repeatPrompt, req.Input)}}},
	})
	if err != nil {
		return nil, err
	}
	if res.MessageID == "" || res.ChatID == "" {
		if res.ChatID != "" {
			r.scheduleCleanup(credential, res.ChatID, false)
		}
		return nil, &SynthesisEmptyError{MessageID: res.MessageID}
	}

	state, err := r.synthesize(ctx, credential, res.ChatID, res.MessageID, r.voices.persona(req.Voice))

	// The synthesis conversation is ephemeral regardless of outcome.
	r.scheduleCleanup(credential, res.ChatID, false)
	if err != nil {
		return nil, err
	}

	if len(state.AudioURLs) == 0 {
		return nil, &SynthesisEmptyError{MessageID: res.MessageID}
	}
	var buf bytes.Buffer
	for _, segURL := range state.AudioURLs {
		data, err := r.client.Voice.FetchAudio(ctx, segURL)
		if err != nil {
			return nil, &SynthesisDownloadError{URL: segURL, Err: err}
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

// synthesize switches the persona and polls until the audio is ready,
// holding the per-credential lock for the whole exchange.
func (r *Relay) synthesize(ctx context.Context, credential, chatID, messageID, personaID string) (*hailuo.SynthesisState, error) {
	sem := r.locks.get(credential)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer sem.Release(1)

	if err := r.client.Voice.SwitchPersona(ctx, credential, chatID, personaID); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(r.synthTimeout)
	for {
		state, err := r.client.Voice.SynthesisStatus(ctx, credential, messageID)
		if err != nil {
			return nil, err
		}
		if state.Finished() {
			return state, nil
		}
		if state.Status == hailuo.SynthesisFailedFlag {
			slog.Warn("voice synthesis failed upstream", "msg_id", messageID)
			return nil, &SynthesisEmptyError{MessageID: messageID}
		}
		if time.Now().After(deadline) {
			return nil, &SynthesisTimeoutError{MessageID: messageID}
		}
		if err := sleepCtx(ctx, r.pollInterval); err != nil {
			return nil, err
		}
	}
}
