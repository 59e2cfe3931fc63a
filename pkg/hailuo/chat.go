package hailuo

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
)

// DefaultCharacterID is the stock assistant persona.
const DefaultCharacterID = "1"

// ChatService provides conversation and message operations.
type ChatService struct {
	client *Client
}

// MessageRequest describes one upstream chat turn.
type MessageRequest struct {
	// Content is the merged message text sent upstream.
	Content string

	// ChatID continues an existing conversation when non-empty.
	ChatID string

	// CharacterID selects the assistant persona. Defaults to
	// DefaultCharacterID.
	CharacterID string

	// FileIDs are upstream file handles attached to this turn.
	FileIDs []string

	// SearchMode enables upstream web search ("1") or disables it ("0",
	// the default).
	SearchMode string
}

func (r *MessageRequest) form() (map[string]string, error) {
	chatID := r.ChatID
	if chatID == "" {
		chatID = "0"
	}
	characterID := r.CharacterID
	if characterID == "" {
		characterID = DefaultCharacterID
	}
	searchMode := r.SearchMode
	if searchMode == "" {
		searchMode = "0"
	}
	form := map[string]string{
		"characterID": characterID,
		"msgContent":  r.Content,
		"chatID":      chatID,
		"searchMode":  searchMode,
	}
	if len(r.FileIDs) > 0 {
		list, err := json.Marshal(r.FileIDs)
		if err != nil {
			return nil, fmt.Errorf("marshal file list: %w", err)
		}
		form["fileList"] = string(list)
	}
	return form, nil
}

// CreateMessageStream sends a chat turn and yields the raw upstream event
// stream. The underlying session is closed when iteration completes or
// breaks, on every exit path.
//
// A stale-device rejection evicts the cached identity for the credential
// before the error is yielded, so the caller's next attempt re-registers.
func (s *ChatService) CreateMessageStream(ctx context.Context, credential string, req *MessageRequest) iter.Seq2[*MessageEvent, error] {
	return func(yield func(*MessageEvent, error) bool) {
		device, err := s.client.Devices.Acquire(ctx, credential)
		if err != nil {
			yield(nil, err)
			return
		}

		form, err := req.form()
		if err != nil {
			yield(nil, err)
			return
		}

		resp, err := s.client.http.requestStream(ctx, credential, device.DeviceID, device.UserID, "/v4/api/chat/msg", form)
		if err != nil {
			if e, ok := AsError(err); ok && e.IsAuth() {
				s.client.Devices.Evict(ctx, credential)
			}
			yield(nil, err)
			return
		}

		reader := newSSEReader(resp)
		defer reader.close()

		for {
			data, done, err := reader.readEvent()
			if err != nil {
				yield(nil, transportErr(err))
				return
			}
			if done {
				return
			}

			var ev MessageEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				yield(nil, protocolErr(fmt.Errorf("unmarshal event: %w", err)))
				return
			}
			if ev.StatusInfo != nil && ev.StatusInfo.Code != 0 {
				err := envelopeError(ev.StatusInfo, resp.StatusCode)
				if e, ok := AsError(err); ok && e.IsAuth() {
					s.client.Devices.Evict(ctx, credential)
				}
				yield(nil, err)
				return
			}

			if !yield(&ev, nil) {
				return
			}
		}
	}
}

// DeleteConversation removes a conversation from the account history.
func (s *ChatService) DeleteConversation(ctx context.Context, credential, chatID string) error {
	device, err := s.client.Devices.Acquire(ctx, credential)
	if err != nil {
		return err
	}

	body := struct {
		ChatID string `json:"chatID"`
	}{ChatID: chatID}

	err = s.client.http.request(ctx, credential, device.DeviceID, device.UserID, http.MethodPost, "/v1/api/chat/history/delete", body, nil)
	if err != nil {
		slog.Debug("delete conversation", "chat_id", chatID, "err", err)
		return err
	}
	return nil
}
