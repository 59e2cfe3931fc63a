package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/LLM-Red-Team/hailuo-free-api/pkg/hailuo"
	"github.com/LLM-Red-Team/hailuo-free-api/pkg/relay"
)

// APIError is the OpenAI-compatible error body.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// fromError maps the error taxonomy onto stable wire codes and HTTP
// statuses.
func fromError(err error) (*APIError, int) {
	if errors.Is(err, context.DeadlineExceeded) {
		return &APIError{Message: "request timeout", Type: "api_error", Code: "timeout"}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &APIError{Message: "request cancelled", Type: "api_error", Code: "cancelled"}, http.StatusRequestTimeout
	}

	var fv *relay.FileValidationError
	if errors.As(err, &fv) {
		return &APIError{
			Message: fv.Error(),
			Type:    "invalid_request_error",
			Code:    "invalid_attachment",
		}, http.StatusBadRequest
	}

	var timeout *relay.SynthesisTimeoutError
	if errors.As(err, &timeout) {
		return &APIError{
			Message: "voice synthesis timed out",
			Type:    "api_error",
			Code:    "synthesis_timeout",
		}, http.StatusGatewayTimeout
	}
	var empty *relay.SynthesisEmptyError
	if errors.As(err, &empty) {
		return &APIError{
			Message: "voice synthesis produced no audio",
			Type:    "api_error",
			Code:    "synthesis_empty",
		}, http.StatusBadGateway
	}
	var download *relay.SynthesisDownloadError
	if errors.As(err, &download) {
		return &APIError{
			Message: "audio segment download failed",
			Type:    "api_error",
			Code:    "synthesis_download_failed",
		}, http.StatusBadGateway
	}

	if e, ok := hailuo.AsError(err); ok {
		switch {
		case e.IsAuth():
			return &APIError{
				Message: "credential rejected by upstream",
				Type:    "invalid_request_error",
				Code:    "invalid_api_key",
			}, http.StatusUnauthorized
		case e.Kind == hailuo.KindTransport:
			return &APIError{
				Message: "upstream unreachable",
				Type:    "api_error",
				Code:    "upstream_unreachable",
			}, http.StatusBadGateway
		default:
			return &APIError{
				Message: e.Error(),
				Type:    "api_error",
				Code:    "upstream_error",
			}, http.StatusBadGateway
		}
	}

	return &APIError{Message: "internal error", Type: "api_error"}, http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	apiErr, status := fromError(err)
	if status >= 500 {
		slog.Error("request failed", "err", err, "status", status)
	} else {
		slog.Info("request rejected", "err", err, "status", status)
	}
	writeErrorBody(w, apiErr, status)
}

func badRequest(w http.ResponseWriter, message string) {
	writeErrorBody(w, &APIError{Message: message, Type: "invalid_request_error"}, http.StatusBadRequest)
}

func unauthorized(w http.ResponseWriter, message string) {
	writeErrorBody(w, &APIError{
		Message: message,
		Type:    "invalid_request_error",
		Code:    "invalid_api_key",
	}, http.StatusUnauthorized)
}

func writeErrorBody(w http.ResponseWriter, apiErr *APIError, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{Error: apiErr})
}
