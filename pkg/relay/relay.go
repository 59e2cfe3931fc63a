package relay

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LLM-Red-Team/hailuo-free-api/pkg/hailuo"
	"github.com/LLM-Red-Team/hailuo-free-api/pkg/jsontime"
	"github.com/LLM-Red-Team/hailuo-free-api/pkg/transcode"
)

const (
	// DefaultMaxRetries is the retry budget around one streaming call.
	DefaultMaxRetries = 3

	// DefaultRetryDelay is the fixed delay between attempts.
	DefaultRetryDelay = time.Second

	// cleanupTimeout bounds the asynchronous post-completion deletion.
	cleanupTimeout = 15 * time.Second
)

// apologyText is returned as a well-formed completion when the retry
// budget is exhausted on a streaming call, instead of a bare connection
// drop.
const apologyText = "很抱歉，服务暂时不可用，请稍后再试。"

// Relay owns the end-to-end flow for a chat, transcription or voice turn:
// it merges history, uploads references, opens the upstream stream, drives
// the transcoder, retries on transport failure and schedules cleanup.
type Relay struct {
	client      *hailuo.Client
	fetchClient *http.Client

	maxRetries int
	retryDelay time.Duration

	voices *voiceMapper
	locks  *credentialLocks

	synthTimeout time.Duration
	pollInterval time.Duration
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRetry sets the retry budget and the fixed delay between attempts.
func WithRetry(maxRetries int, delay time.Duration) RelayOption {
	return func(r *Relay) {
		r.maxRetries = maxRetries
		r.retryDelay = delay
	}
}

// WithVoiceOverrides overrides the voice-to-persona mapping positionally;
// entries beyond the list fall back to the defaults.
func WithVoiceOverrides(personas []string) RelayOption {
	return func(r *Relay) {
		r.voices = newVoiceMapper(personas)
	}
}

// WithFetchClient sets the HTTP client used to resolve remote attachment
// URLs.
func WithFetchClient(client *http.Client) RelayOption {
	return func(r *Relay) {
		r.fetchClient = client
	}
}

// WithSynthesisTimeout sets the voice synthesis polling deadline and
// interval.
func WithSynthesisTimeout(timeout, interval time.Duration) RelayOption {
	return func(r *Relay) {
		r.synthTimeout = timeout
		r.pollInterval = interval
	}
}

// New creates a Relay over the given upstream client.
func New(client *hailuo.Client, opts ...RelayOption) *Relay {
	r := &Relay{
		client:       client,
		fetchClient:  http.DefaultClient,
		maxRetries:   DefaultMaxRetries,
		retryDelay:   DefaultRetryDelay,
		voices:       newVoiceMapper(nil),
		locks:        newCredentialLocks(),
		synthTimeout: DefaultSynthesisTimeout,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Completion runs one buffered chat turn and returns the final completion
// object.
func (r *Relay) Completion(ctx context.Context, credential string, req *ChatRequest) (*ChatCompletion, error) {
	res, err := r.completionResult(ctx, credential, req)
	if err != nil {
		completionsTotal.WithLabelValues("buffered", "error").Inc()
		return nil, err
	}
	completionsTotal.WithLabelValues("buffered", "ok").Inc()
	r.scheduleCleanup(credential, res.ChatID, req.ConversationID != "")

	return &ChatCompletion{
		ID:     completionID(res.ChatID),
		Model:  req.Model,
		Object: "chat.completion",
		Choices: []Choice{{
			Index:        0,
			Message:      &AssistantMessage{Role: "assistant", Content: res.Content},
			FinishReason: "stop",
		}},
		Usage:   placeholderUsage,
		Created: jsontime.NowEpoch(),
	}, nil
}

// completionResult drives the buffered transcoder with the retry loop.
// Shared by Completion, Transcribe and the voice pipeline's repeat-back
// turn. Cleanup of the upstream conversation is the caller's business:
// the voice pipeline needs the conversation alive until synthesis ends.
func (r *Relay) completionResult(ctx context.Context, credential string, req *ChatRequest) (*transcode.Result, error) {
	msgReq, err := r.prepareTurn(ctx, credential, req)
	if err != nil {
		return nil, err
	}
	return r.bufferedTurn(ctx, credential, msgReq)
}

// bufferedTurn runs one upstream turn to completion under the retry
// budget.
func (r *Relay) bufferedTurn(ctx context.Context, credential string, msgReq *hailuo.MessageRequest) (*transcode.Result, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			retriesTotal.Inc()
			if err := sleepCtx(ctx, r.retryDelay); err != nil {
				return nil, err
			}
			slog.Info("retrying completion", "attempt", attempt)
		}

		res, err := transcode.Buffered(r.client.Chat.CreateMessageStream(ctx, credential, msgReq))
		if err != nil {
			lastErr = err
			if retryable(err) {
				continue
			}
			return nil, err
		}
		return res, nil
	}
	return nil, lastErr
}

// CompletionStream runs one incremental chat turn, invoking emit once per
// delta chunk and once more for the terminal stop chunk. The caller owns
// the end sentinel.
//
// Retries are transparent while nothing has been emitted yet; once the
// client has received output, a mid-stream failure degrades to an orderly
// end of stream instead.
func (r *Relay) CompletionStream(ctx context.Context, credential string, req *ChatRequest, emit func(*Chunk) error) error {
	msgReq, err := r.prepareTurn(ctx, credential, req)
	if err != nil {
		completionsTotal.WithLabelValues("stream", "error").Inc()
		return err
	}

	activeStreams.Inc()
	defer activeStreams.Dec()

	id := completionID("")
	created := jsontime.NowEpoch()
	emitDelta := func(delta string) error {
		return emit(&Chunk{
			ID:      id,
			Model:   req.Model,
			Object:  "chat.completion.chunk",
			Choices: []ChunkChoice{{Delta: Delta{Role: "assistant", Content: delta}}},
			Created: created,
		})
	}

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			retriesTotal.Inc()
			if err := sleepCtx(ctx, r.retryDelay); err != nil {
				return err
			}
			slog.Info("retrying completion stream", "attempt", attempt)
		}

		res, err := transcode.Incremental(r.client.Chat.CreateMessageStream(ctx, credential, msgReq), emitDelta)
		if err != nil {
			if _, ok := hailuo.AsError(err); !ok {
				// emit failed: the client is gone, stop entirely.
				completionsTotal.WithLabelValues("stream", "error").Inc()
				return err
			}
			lastErr = err
			if !res.Emitted && retryable(err) {
				continue
			}
			// Partial output already reached the client; degrade to an
			// orderly end of stream.
			slog.Warn("stream degraded after partial output", "err", err, "chat_id", res.ChatID)
		}

		r.scheduleCleanup(credential, res.ChatID, req.ConversationID != "")
		completionsTotal.WithLabelValues("stream", "ok").Inc()
		return emit(stopChunk(id, req.Model, created))
	}

	// Budget exhausted with nothing delivered: the client still receives
	// a well-formed completion rather than a bare connection drop.
	slog.Error("completion stream failed after retries", "err", lastErr)
	completionsTotal.WithLabelValues("stream", "exhausted").Inc()
	if err := emitDelta(apologyText); err != nil {
		return err
	}
	return emit(stopChunk(id, req.Model, created))
}

// prepareTurn merges history and resolves attachments into an upstream
// message request.
func (r *Relay) prepareTurn(ctx context.Context, credential string, req *ChatRequest) (*hailuo.MessageRequest, error) {
	fileIDs, err := r.resolveRefs(ctx, credential, attachments(req.Messages))
	if err != nil {
		return nil, err
	}
	msgReq := &hailuo.MessageRequest{
		Content: prepareMessages(req.Messages, req.ConversationID),
		ChatID:  req.ConversationID,
		FileIDs: fileIDs,
	}
	// Model variants ending in -search run the turn with upstream web
	// search; citations come back as quote_result parts.
	if strings.HasSuffix(req.Model, "-search") {
		msgReq.SearchMode = "1"
	}
	return msgReq, nil
}

// scheduleCleanup deletes the ephemeral upstream conversation after the
// turn completes, best-effort and off the request path. Continuations of
// an existing thread are never deleted: that history is user-visible.
func (r *Relay) scheduleCleanup(credential, chatID string, continued bool) {
	if continued || chatID == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		if err := r.client.Chat.DeleteConversation(ctx, credential, chatID); err != nil {
			slog.Debug("conversation cleanup failed", "chat_id", chatID, "err", err)
		}
	}()
}

// CheckToken reports whether a credential can still acquire a device
// identity.
func (r *Relay) CheckToken(ctx context.Context, credential string) bool {
	_, err := r.client.Devices.Acquire(ctx, credential)
	return err == nil
}

func retryable(err error) bool {
	e, ok := hailuo.AsError(err)
	return ok && e.Retryable()
}

func stopChunk(id, model string, created jsontime.Unix) *Chunk {
	stop := "stop"
	return &Chunk{
		ID:      id,
		Model:   model,
		Object:  "chat.completion.chunk",
		Choices: []ChunkChoice{{Delta: Delta{}, FinishReason: &stop}},
		Created: created,
	}
}

func completionID(chatID string) string {
	if chatID != "" {
		return chatID
	}
	return uuid.NewString()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
