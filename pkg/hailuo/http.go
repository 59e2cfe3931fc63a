package hailuo

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// httpClient handles signed HTTP communication with the Hailuo API.
type httpClient struct {
	client  *http.Client
	stream  *http.Client
	baseURL string
	now     func() time.Time
}

func newHTTPClient(cfg *clientConfig) *httpClient {
	return &httpClient{
		client:  cfg.httpClient,
		stream:  cfg.streamClient,
		baseURL: cfg.baseURL,
		now:     cfg.now,
	}
}

// envelope is the common response wrapper from the Hailuo API.
type envelope struct {
	StatusInfo *StatusInfo     `json:"statusInfo,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// request makes a signed unary request. deviceID and userUUID may be empty
// during device registration. The response data field is unmarshaled into
// result if non-nil.
func (h *httpClient) request(ctx context.Context, credential, deviceID, userUUID, method, path string, body any, result any) error {
	var bodyStr string
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(data)
	}

	now := h.now()
	pathWithQuery := withQuery(path, canonicalQuery(deviceID, userUUID, now))
	url := h.baseURL + pathWithQuery

	var bodyReader io.Reader
	if bodyStr != "" {
		bodyReader = strings.NewReader(bodyStr)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	h.setHeaders(req, credential, signRequest(pathWithQuery, bodyStr, now))
	if bodyStr != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return transportErr(err)
	}
	defer resp.Body.Close()

	return h.handleResponse(resp, result)
}

// requestStream opens a signed streaming request. The form is sent as
// multipart form data; the signature covers the canonical JSON rendering of
// the form fields (sorted keys), not the multipart bytes.
//
// The returned response body is the server-sent event stream. The caller
// must close it on every exit path.
func (h *httpClient) requestStream(ctx context.Context, credential, deviceID, userUUID, path string, form map[string]string) (*http.Response, error) {
	canonical, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("marshal form: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range form {
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	now := h.now()
	pathWithQuery := withQuery(path, canonicalQuery(deviceID, userUUID, now))
	url := h.baseURL + pathWithQuery

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	h.setHeaders(req, credential, signRequest(pathWithQuery, string(canonical), now))
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "text/event-stream")

	resp, err := h.stream.Do(req)
	if err != nil {
		return nil, transportErr(err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, h.handleErrorResponse(resp)
	}

	return resp, nil
}

// upload PUTs raw bytes to an absolute URL issued by an upload policy.
// Not signed: the policy URL carries its own authorization.
func (h *httpClient) upload(ctx context.Context, url string, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := h.client.Do(req)
	if err != nil {
		return transportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{Kind: KindUpstream, StatusMsg: "upload rejected", HTTPStatus: resp.StatusCode}
	}
	return nil
}

// fetch GETs an absolute URL and returns the raw body.
func (h *httpClient) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, transportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Kind: KindUpstream, StatusMsg: "fetch failed", HTTPStatus: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}

func (h *httpClient) setHeaders(req *http.Request, credential, signature string) {
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Origin", h.baseURL)
	req.Header.Set("Referer", h.baseURL+"/")
	if credential != "" {
		req.Header.Set("Token", credential)
	}
	req.Header.Set("Yy", signature)
}

func (h *httpClient) handleResponse(resp *http.Response, result any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportErr(err)
	}

	if resp.StatusCode != http.StatusOK {
		return h.parseError(body, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return protocolErr(fmt.Errorf("unmarshal response: %w", err))
	}
	if env.StatusInfo != nil && env.StatusInfo.Code != 0 {
		return envelopeError(env.StatusInfo, resp.StatusCode)
	}

	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return protocolErr(fmt.Errorf("unmarshal data: %w", err))
		}
	}
	return nil
}

func (h *httpClient) handleErrorResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportErr(err)
	}
	return h.parseError(body, resp.StatusCode)
}

func (h *httpClient) parseError(body []byte, httpStatus int) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil && env.StatusInfo != nil {
		return envelopeError(env.StatusInfo, httpStatus)
	}
	kind := KindUpstream
	if httpStatus == 401 || httpStatus == 403 {
		kind = KindAuth
	}
	return &Error{Kind: kind, StatusMsg: string(body), HTTPStatus: httpStatus}
}

// Upstream envelope codes that indicate a rejected credential or a stale
// device identity.
const (
	codeUnauthorized = 1000
	codeDeviceStale  = 1001
)

func envelopeError(info *StatusInfo, httpStatus int) error {
	kind := KindUpstream
	switch {
	case info.Code == codeUnauthorized || info.Code == codeDeviceStale:
		kind = KindAuth
	case httpStatus == 401 || httpStatus == 403:
		kind = KindAuth
	}
	return &Error{Kind: kind, StatusCode: info.Code, StatusMsg: info.Message, HTTPStatus: httpStatus}
}

func withQuery(path, query string) string {
	if strings.Contains(path, "?") {
		return path + "&" + query
	}
	return path + "?" + query
}

// sseReader reads Server-Sent Events from a streaming response.
type sseReader struct {
	reader *bufio.Reader
	resp   *http.Response
}

func newSSEReader(resp *http.Response) *sseReader {
	return &sseReader{
		reader: bufio.NewReader(resp.Body),
		resp:   resp,
	}
}

// readEvent reads the next SSE event.
// Returns (data, isDone, error).
func (r *sseReader) readEvent() ([]byte, bool, error) {
	var data []byte

	for {
		line, err := r.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return nil, true, nil
			}
			return nil, false, err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			// Empty line marks end of event
			if len(data) > 0 {
				return data, false, nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("data:")) {
			eventData := bytes.TrimPrefix(line, []byte("data:"))
			eventData = bytes.TrimSpace(eventData)

			if bytes.Equal(eventData, []byte("[DONE]")) {
				return nil, true, nil
			}

			data = eventData
		}
	}
}

func (r *sseReader) close() {
	r.resp.Body.Close()
}
