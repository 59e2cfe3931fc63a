package apiserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/LLM-Red-Team/hailuo-free-api/pkg/jsontime"
	"github.com/LLM-Red-Team/hailuo-free-api/pkg/relay"
)

// maxAudioUploadBytes bounds transcription uploads.
const maxAudioUploadBytes = 25 << 20

// audioMIMETypes is the transcription upload allow-list.
var audioMIMETypes = map[string]bool{
	"audio/mpeg":  true,
	"audio/mp3":   true,
	"audio/mp4":   true,
	"audio/wav":   true,
	"audio/x-wav": true,
	"audio/webm":  true,
	"audio/ogg":   true,
	"audio/flac":  true,
	"audio/aac":   true,
	"audio/x-m4a": true,
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	cred := credential(r)
	if cred == "" {
		unauthorized(w, "missing bearer credential")
		return
	}

	var req relay.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		badRequest(w, "messages must not be empty")
		return
	}

	if !req.Stream {
		resp, err := s.service.Completion(r.Context(), cred, &req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, resp)
		return
	}

	sw, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}
	err = s.service.CompletionStream(r.Context(), cred, &req, func(ch *relay.Chunk) error {
		return sw.sendJSON(ch)
	})
	if err != nil {
		if !sw.wrote() {
			// No frame has been flushed, so the event-stream headers are
			// still uncommitted and a structured error can replace them.
			w.Header().Del("Cache-Control")
			w.Header().Del("Connection")
			writeError(w, err)
			return
		}
		slog.Error("completion stream aborted", "err", err)
		return
	}
	if err := sw.sendRaw("[DONE]"); err != nil {
		slog.Debug("write end sentinel", "err", err)
	}
}

func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	cred := credential(r)
	if cred == "" {
		unauthorized(w, "missing bearer credential")
		return
	}

	var req relay.SpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body: "+err.Error())
		return
	}
	if req.Input == "" {
		badRequest(w, "input must not be empty")
		return
	}

	audio, err := s.service.Speech(r.Context(), cred, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Write(audio)
}

func (s *Server) handleTranscriptions(w http.ResponseWriter, r *http.Request) {
	cred := credential(r)
	if cred == "" {
		unauthorized(w, "missing bearer credential")
		return
	}

	if err := r.ParseMultipartForm(maxAudioUploadBytes); err != nil {
		badRequest(w, "malformed multipart form: "+err.Error())
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		badRequest(w, "file field is required")
		return
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); ct != "" && !audioMIMETypes[ct] {
		badRequest(w, "unsupported audio type "+ct)
		return
	}

	audio, err := io.ReadAll(io.LimitReader(file, maxAudioUploadBytes+1))
	if err != nil {
		badRequest(w, "read upload: "+err.Error())
		return
	}
	if len(audio) > maxAudioUploadBytes {
		badRequest(w, "audio upload too large")
		return
	}

	text, err := s.service.Transcribe(r.Context(), cred, header.Filename, audio)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.FormValue("response_format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, text)
		return
	}
	writeJSON(w, map[string]string{"text": text})
}

func (s *Server) handleTokenCheck(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "malformed request body: "+err.Error())
		return
	}
	if req.Token == "" {
		badRequest(w, "token must not be empty")
		return
	}

	live := s.service.CheckToken(r.Context(), req.Token)
	writeJSON(w, map[string]bool{"live": live})
}

// modelEntry is one row of the static model listing.
type modelEntry struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	OwnedBy string        `json:"owned_by"`
	Created jsontime.Unix `json:"created"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	created := jsontime.Unix(time.Unix(1700000000, 0))
	writeJSON(w, map[string]any{
		"object": "list",
		"data": []modelEntry{
			{ID: "hailuo", Object: "model", OwnedBy: "hailuo-free-api", Created: created},
			{ID: "hailuo-search", Object: "model", OwnedBy: "hailuo-free-api", Created: created},
			{ID: "hailuo-tts", Object: "model", OwnedBy: "hailuo-free-api", Created: created},
			{ID: "hailuo-stt", Object: "model", OwnedBy: "hailuo-free-api", Created: created},
		},
	})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	io.WriteString(w, "pong")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encode response", "err", err)
	}
}
