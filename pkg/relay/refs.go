package relay

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// maxAttachmentBytes bounds the size of any single resolved attachment.
const maxAttachmentBytes = 100 << 20

// resolveRefs turns every attachment URL of the latest message into an
// upstream file handle. Validation failures surface as
// *FileValidationError before any generation stream is opened.
func (r *Relay) resolveRefs(ctx context.Context, credential string, urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(urls))
	for _, u := range urls {
		data, name, err := r.loadRef(ctx, u)
		if err != nil {
			return nil, err
		}
		handle, err := r.client.File.Upload(ctx, credential, name, data)
		if err != nil {
			return nil, fmt.Errorf("upload attachment: %w", err)
		}
		ids = append(ids, handle.ID)
	}
	return ids, nil
}

// loadRef fetches the bytes behind one attachment reference: either an
// inline base64 data URL or a remote http(s) URL, probed and size-bounded
// before transfer.
func (r *Relay) loadRef(ctx context.Context, ref string) ([]byte, string, error) {
	if strings.HasPrefix(ref, "data:") {
		return decodeDataURL(ref)
	}
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return nil, "", &FileValidationError{URL: ref, Reason: "unsupported URL scheme"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", &FileValidationError{URL: ref, Reason: "malformed URL", Err: err}
	}
	resp, err := r.fetchClient.Do(req)
	if err != nil {
		return nil, "", &FileValidationError{URL: ref, Reason: "unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &FileValidationError{URL: ref, Reason: fmt.Sprintf("unreachable (status %d)", resp.StatusCode)}
	}
	if resp.ContentLength > maxAttachmentBytes {
		return nil, "", &FileValidationError{URL: ref, Reason: "attachment exceeds size bound"}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, "", &FileValidationError{URL: ref, Reason: "read failed", Err: err}
	}
	if len(data) > maxAttachmentBytes {
		return nil, "", &FileValidationError{URL: ref, Reason: "attachment exceeds size bound"}
	}

	return data, refFilename(ref), nil
}

// decodeDataURL decodes a base64 data URL and derives a filename from the
// declared media type.
func decodeDataURL(ref string) ([]byte, string, error) {
	rest := strings.TrimPrefix(ref, "data:")
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, "", &FileValidationError{URL: "data:...", Reason: "malformed data URL"}
	}
	meta, payload := rest[:comma], rest[comma+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return nil, "", &FileValidationError{URL: "data:...", Reason: "data URL must be base64-encoded"}
	}
	mediaType := strings.TrimSuffix(meta, ";base64")

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", &FileValidationError{URL: "data:...", Reason: "invalid base64 payload", Err: err}
	}
	if len(data) > maxAttachmentBytes {
		return nil, "", &FileValidationError{URL: "data:...", Reason: "attachment exceeds size bound"}
	}

	name := "attachment"
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		name += exts[0]
	}
	return data, name, nil
}

// refFilename derives an upload filename from a remote URL.
func refFilename(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "attachment"
	}
	if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
		return name
	}
	return "attachment"
}
