package hailuo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

type chatServer struct {
	srv           *httptest.Server
	registrations atomic.Int64

	// streamBody is written verbatim as the event stream response.
	streamBody atomic.Pointer[string]
}

func newChatServer(t *testing.T) *chatServer {
	t.Helper()
	s := &chatServer{}
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/api/user/device/register", func(w http.ResponseWriter, r *http.Request) {
		n := s.registrations.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"statusInfo":{"code":0},"data":{"deviceIDStr":"dev-%d","userID":"user-1"}}`, n)
	})

	mux.HandleFunc("/v4/api/chat/msg", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Yy"); got == "" {
			t.Error("stream request missing the checksum header")
		}
		if got := r.Header.Get("Token"); got != "tok" {
			t.Errorf("credential header = %q, want tok", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart form: %v", err)
		}
		if got := r.FormValue("chatID"); got == "" {
			t.Error("form missing chatID")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		if body := s.streamBody.Load(); body != nil {
			fmt.Fprint(w, *body)
		}
	})

	mux.HandleFunc("/v1/api/chat/history/delete", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"statusInfo":{"code":0}}`)
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *chatServer) client() *Client {
	return NewClient(WithBaseURL(s.srv.URL), WithHTTPClient(s.srv.Client()))
}

func (s *chatServer) setStream(body string) {
	s.streamBody.Store(&body)
}

func TestCreateMessageStream(t *testing.T) {
	s := newChatServer(t)
	s.setStream("" +
		"data: {\"data\":{\"messageID\":\"m1\",\"chatID\":\"c1\",\"msgStatus\":\"running\",\"messageContent\":[{\"type\":\"text\",\"status\":\"init\",\"content\":\"Hi\"}]}}\n\n" +
		"data: {\"data\":{\"messageID\":\"m1\",\"chatID\":\"c1\",\"msgStatus\":\"finish\"}}\n\n" +
		"data: [DONE]\n\n")
	c := s.client()

	var events []*MessageEvent
	for ev, err := range c.Chat.CreateMessageStream(context.Background(), "tok", &MessageRequest{Content: "hello"}) {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		events = append(events, ev)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Data.MessageContent[0].Content != "Hi" {
		t.Errorf("content = %q, want Hi", events[0].Data.MessageContent[0].Content)
	}
	if !events[1].Closed() {
		t.Error("final event not marked closed")
	}
}

func TestCreateMessageStreamEarlyBreakStops(t *testing.T) {
	s := newChatServer(t)
	s.setStream("" +
		"data: {\"data\":{\"chatID\":\"c1\",\"msgStatus\":\"running\",\"messageContent\":[{\"type\":\"text\",\"status\":\"init\",\"content\":\"a\"}]}}\n\n" +
		"data: {\"data\":{\"chatID\":\"c1\",\"msgStatus\":\"running\",\"messageContent\":[{\"type\":\"text\",\"status\":\"init\",\"content\":\"ab\"}]}}\n\n" +
		"data: [DONE]\n\n")
	c := s.client()

	seen := 0
	for _, err := range c.Chat.CreateMessageStream(context.Background(), "tok", &MessageRequest{Content: "hello"}) {
		if err != nil {
			t.Fatalf("stream error: %v", err)
		}
		seen++
		break
	}
	if seen != 1 {
		t.Errorf("seen = %d, want 1 after break", seen)
	}
}

func TestStaleDeviceEvictedMidStream(t *testing.T) {
	s := newChatServer(t)
	s.setStream("data: {\"statusInfo\":{\"code\":1001,\"message\":\"device stale\"}}\n\n")
	c := s.client()

	var streamErr error
	for _, err := range c.Chat.CreateMessageStream(context.Background(), "tok", &MessageRequest{Content: "hello"}) {
		if err != nil {
			streamErr = err
			break
		}
	}
	e, ok := AsError(streamErr)
	if !ok || !e.IsAuth() {
		t.Fatalf("err = %v, want an auth rejection", streamErr)
	}

	// The cached identity must be gone: the next call registers anew.
	before := s.registrations.Load()
	if _, err := c.Devices.Acquire(context.Background(), "tok"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got := s.registrations.Load(); got != before+1 {
		t.Errorf("registrations = %d, want %d after eviction", got, before+1)
	}
}

func TestDeleteConversation(t *testing.T) {
	s := newChatServer(t)
	c := s.client()

	if err := c.Chat.DeleteConversation(context.Background(), "tok", "c1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
}

func TestFileUpload(t *testing.T) {
	var uploaded []byte
	mux := http.NewServeMux()
	var srv *httptest.Server

	mux.HandleFunc("/v1/api/user/device/register", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"statusInfo":{"code":0},"data":{"deviceIDStr":"dev-1","userID":"user-1"}}`)
	})
	mux.HandleFunc("/v1/api/files/request_policy", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"statusInfo":{"code":0},"data":{"uploadURL":"%s/oss/obj-1","fileKey":"obj-1"}}`, srv.URL)
	})
	mux.HandleFunc("/oss/obj-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("storage method = %s, want PUT", r.Method)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read upload body: %v", err)
		}
		uploaded = body
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/api/files/register", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"statusInfo":{"code":0},"data":{"fileID":"file-1"}}`)
	})

	srv = httptest.NewServer(mux)
	defer srv.Close()
	c := NewClient(WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))

	handle, err := c.File.Upload(context.Background(), "tok", "notes.txt", []byte("hello notes"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if handle.ID != "file-1" {
		t.Errorf("file id = %q, want file-1", handle.ID)
	}
	if handle.Name != "notes.txt" {
		t.Errorf("file name = %q, want notes.txt", handle.Name)
	}
	if string(uploaded) != "hello notes" {
		t.Errorf("stored bytes = %q, want the original payload", uploaded)
	}
}
