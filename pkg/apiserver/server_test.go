package apiserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/LLM-Red-Team/hailuo-free-api/pkg/jsontime"
	"github.com/LLM-Red-Team/hailuo-free-api/pkg/relay"
)

// stubService scripts fixed relay behavior.
type stubService struct {
	completion  *relay.ChatCompletion
	chunks      []*relay.Chunk
	audio       []byte
	transcript  string
	live        bool
	err         error
	lastCred    string
	lastRequest *relay.ChatRequest
}

func (s *stubService) Completion(_ context.Context, cred string, req *relay.ChatRequest) (*relay.ChatCompletion, error) {
	s.lastCred = cred
	s.lastRequest = req
	if s.err != nil {
		return nil, s.err
	}
	return s.completion, nil
}

func (s *stubService) CompletionStream(_ context.Context, cred string, req *relay.ChatRequest, emit func(*relay.Chunk) error) error {
	s.lastCred = cred
	s.lastRequest = req
	if s.err != nil {
		return s.err
	}
	for _, ch := range s.chunks {
		if err := emit(ch); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubService) Speech(_ context.Context, cred string, _ *relay.SpeechRequest) ([]byte, error) {
	s.lastCred = cred
	return s.audio, s.err
}

func (s *stubService) Transcribe(_ context.Context, cred, _ string, _ []byte) (string, error) {
	s.lastCred = cred
	return s.transcript, s.err
}

func (s *stubService) CheckToken(_ context.Context, cred string) bool {
	s.lastCred = cred
	return s.live
}

func fixedCompletion(content string) *relay.ChatCompletion {
	return &relay.ChatCompletion{
		ID:     "c1",
		Model:  "hailuo",
		Object: "chat.completion",
		Choices: []relay.Choice{{
			Message:      &relay.AssistantMessage{Role: "assistant", Content: content},
			FinishReason: "stop",
		}},
		Usage:   relay.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
		Created: jsontime.NowEpoch(),
	}
}

func streamChunks(id string, deltas ...string) []*relay.Chunk {
	var chunks []*relay.Chunk
	for _, d := range deltas {
		chunks = append(chunks, &relay.Chunk{
			ID:      id,
			Model:   "hailuo",
			Object:  "chat.completion.chunk",
			Choices: []relay.ChunkChoice{{Delta: relay.Delta{Role: "assistant", Content: d}}},
		})
	}
	stop := "stop"
	chunks = append(chunks, &relay.Chunk{
		ID:      id,
		Model:   "hailuo",
		Object:  "chat.completion.chunk",
		Choices: []relay.ChunkChoice{{FinishReason: &stop}},
	})
	return chunks
}

func newTestServer(t *testing.T, stub *stubService) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(stub).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, auth string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestChatCompletions(t *testing.T) {
	stub := &stubService{completion: fixedCompletion("Hello")}
	srv := newTestServer(t, stub)

	resp := postJSON(t, srv.URL+"/v1/chat/completions", "tok-a", map[string]any{
		"model":    "hailuo",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got relay.ChatCompletion
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Object != "chat.completion" || got.Choices[0].Message.Content != "Hello" {
		t.Errorf("unexpected completion: %+v", got)
	}
	if stub.lastCred != "tok-a" {
		t.Errorf("credential = %q, want tok-a", stub.lastCred)
	}
}

func TestChatCompletionsRequiresAuth(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	resp := postJSON(t, srv.URL+"/v1/chat/completions", "", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var env errorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	if env.Error == nil || env.Error.Type != "invalid_request_error" {
		t.Errorf("error envelope = %+v", env)
	}
}

func TestChatCompletionsRejectsEmptyMessages(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	resp := postJSON(t, srv.URL+"/v1/chat/completions", "tok", map[string]any{
		"model":    "hailuo",
		"messages": []map[string]string{},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatCompletionsStream(t *testing.T) {
	stub := &stubService{chunks: streamChunks("c1", "Hel", "lo")}
	srv := newTestServer(t, stub)

	resp := postJSON(t, srv.URL+"/v1/chat/completions", "tok", map[string]any{
		"model":    "hailuo",
		"stream":   true,
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q, want text/event-stream", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n\n")
	if len(lines) != 4 {
		t.Fatalf("frames = %d, want 4 (2 deltas, stop, sentinel): %q", len(lines), body)
	}
	if lines[len(lines)-1] != "data: [DONE]" {
		t.Errorf("last frame = %q, want the end sentinel", lines[len(lines)-1])
	}
}

func TestFileValidationMapsToBadRequest(t *testing.T) {
	stub := &stubService{err: &relay.FileValidationError{URL: "https://x/y.png", Reason: "unreachable"}}
	srv := newTestServer(t, stub)

	resp := postJSON(t, srv.URL+"/v1/chat/completions", "tok", map[string]any{
		"model":    "hailuo",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var env errorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	if env.Error.Code != "invalid_attachment" {
		t.Errorf("code = %q, want invalid_attachment", env.Error.Code)
	}
}

// An error raised before any chunk is emitted must still reach the client
// as a structured error, not an empty event stream.
func TestStreamFileValidationMapsToBadRequest(t *testing.T) {
	stub := &stubService{err: &relay.FileValidationError{URL: "https://x/y.png", Reason: "unreachable"}}
	srv := newTestServer(t, stub)

	resp := postJSON(t, srv.URL+"/v1/chat/completions", "tok", map[string]any{
		"model":    "hailuo",
		"stream":   true,
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("content type = %q, want application/json", ct)
	}
	var env errorEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	if env.Error == nil || env.Error.Code != "invalid_attachment" {
		t.Errorf("error envelope = %+v", env)
	}
}

func TestSpeech(t *testing.T) {
	stub := &stubService{audio: []byte("mp3-bytes")}
	srv := newTestServer(t, stub)

	resp := postJSON(t, srv.URL+"/v1/audio/speech", "tok", map[string]any{
		"model": "hailuo-tts",
		"input": "你好",
		"voice": "alloy",
	})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("content type = %q, want audio/mpeg", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "mp3-bytes" {
		t.Errorf("body = %q, want the audio bytes", body)
	}
}

func postAudioForm(t *testing.T, url, contentType, format string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="clip.mp3"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("fake-audio"))
	if format != "" {
		mw.WriteField("response_format", format)
	}
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer tok")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestTranscriptions(t *testing.T) {
	stub := &stubService{transcript: "hello world"}
	srv := newTestServer(t, stub)

	resp := postAudioForm(t, srv.URL+"/v1/audio/transcriptions", "audio/mpeg", "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Text != "hello world" {
		t.Errorf("text = %q, want hello world", got.Text)
	}
}

func TestTranscriptionsTextFormat(t *testing.T) {
	stub := &stubService{transcript: "plain text out"}
	srv := newTestServer(t, stub)

	resp := postAudioForm(t, srv.URL+"/v1/audio/transcriptions", "audio/wav", "text")
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "plain text out" {
		t.Errorf("body = %q, want the raw transcript", body)
	}
}

func TestTranscriptionsRejectsUnknownMIME(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	resp := postAudioForm(t, srv.URL+"/v1/audio/transcriptions", "application/pdf", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTokenCheck(t *testing.T) {
	stub := &stubService{live: true}
	srv := newTestServer(t, stub)

	resp := postJSON(t, srv.URL+"/token/check", "", map[string]string{"token": "tok-x"})
	defer resp.Body.Close()

	var got struct {
		Live bool `json:"live"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if !got.Live {
		t.Error("live = false, want true")
	}
	if stub.lastCred != "tok-x" {
		t.Errorf("checked credential = %q, want tok-x", stub.lastCred)
	}
}

func TestModelsAndPing(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	resp, err := http.Get(srv.URL + "/v1/models")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got struct {
		Object string       `json:"object"`
		Data   []modelEntry `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Object != "list" || len(got.Data) == 0 {
		t.Errorf("models = %+v", got)
	}

	ping, err := http.Get(srv.URL + "/ping")
	if err != nil {
		t.Fatal(err)
	}
	defer ping.Body.Close()
	body, _ := io.ReadAll(ping.Body)
	if string(body) != "pong" {
		t.Errorf("ping = %q, want pong", body)
	}
}

// The response shapes must round-trip through the official SDK.
func TestOpenAISDKCompatibility(t *testing.T) {
	stub := &stubService{completion: fixedCompletion("Hello from upstream")}
	srv := newTestServer(t, stub)

	client := openai.NewClient(
		option.WithAPIKey("tok"),
		option.WithBaseURL(srv.URL+"/v1"),
	)

	resp, err := client.Chat.Completions.New(context.Background(), openai.ChatCompletionNewParams{
		Model:    "hailuo",
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage("hi")},
	})
	if err != nil {
		t.Fatalf("sdk chat completion: %v", err)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("choices = %d, want 1", len(resp.Choices))
	}
	if resp.Choices[0].Message.Content != "Hello from upstream" {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
	if string(resp.Choices[0].FinishReason) != "stop" {
		t.Errorf("finish reason = %q, want stop", resp.Choices[0].FinishReason)
	}
}

func TestOpenAISDKStreaming(t *testing.T) {
	stub := &stubService{chunks: streamChunks("c1", "Hel", "lo")}
	srv := newTestServer(t, stub)

	client := openai.NewClient(
		option.WithAPIKey("tok"),
		option.WithBaseURL(srv.URL+"/v1"),
	)

	stream := client.Chat.Completions.NewStreaming(context.Background(), openai.ChatCompletionNewParams{
		Model:    "hailuo",
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage("hi")},
	})
	var text strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) > 0 {
			text.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("sdk stream: %v", err)
	}
	if text.String() != "Hello" {
		t.Errorf("streamed text = %q, want Hello", text.String())
	}
}
