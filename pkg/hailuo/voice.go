package hailuo

import (
	"context"
	"net/http"
	"net/url"
)

// VoiceService provides persona switching and speech synthesis operations.
type VoiceService struct {
	client *Client
}

// Synthesis statuses reported by the tts status endpoint.
const (
	SynthesisPending    = 1
	SynthesisDone       = 2
	SynthesisFailedFlag = 3
)

// SynthesisState is one poll of a message's speech synthesis.
type SynthesisState struct {
	Status    int      `json:"ttsStatus"`
	AudioURLs []string `json:"audioURLs,omitempty"`
}

// Finished reports whether synthesis completed.
func (s *SynthesisState) Finished() bool {
	return s.Status == SynthesisDone
}

// SwitchPersona switches the conversation's voice persona. The upstream
// serializes persona state per account, so callers must not run two
// switches for the same credential concurrently.
func (s *VoiceService) SwitchPersona(ctx context.Context, credential, chatID, personaID string) error {
	device, err := s.client.Devices.Acquire(ctx, credential)
	if err != nil {
		return err
	}

	body := struct {
		ChatID    string `json:"chatID"`
		VoiceID   string `json:"voiceID"`
		Operation string `json:"operation"`
	}{ChatID: chatID, VoiceID: personaID, Operation: "switch"}

	return s.client.http.request(ctx, credential, device.DeviceID, device.UserID, http.MethodPost, "/v1/api/chat/persona/switch", body, nil)
}

// SynthesisStatus polls the synthesis state of one message.
func (s *VoiceService) SynthesisStatus(ctx context.Context, credential, msgID string) (*SynthesisState, error) {
	device, err := s.client.Devices.Acquire(ctx, credential)
	if err != nil {
		return nil, err
	}

	var state SynthesisState
	path := "/v1/api/chat/msg/tts/status?msgID=" + url.QueryEscape(msgID)
	err = s.client.http.request(ctx, credential, device.DeviceID, device.UserID, http.MethodGet, path, nil, &state)
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// FetchAudio downloads one synthesized audio segment.
func (s *VoiceService) FetchAudio(ctx context.Context, segmentURL string) ([]byte, error) {
	return s.client.http.fetch(ctx, segmentURL)
}
