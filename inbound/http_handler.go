package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

const defaultMaxBodyBytes int64 = 1 << 20

type inboundHandler interface {
	HandleInbound(ctx context.Context, req InboundRequest) (InboundAck, error)
}

// HTTPHandler serves the inbound POST endpoint.
func HTTPHandler(gateway inboundHandler, maxBodyBytes int64) http.Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeError(w, inboundError("inbound: method not allowed", goerrors.CategoryBadInput, core.RelayErrorBadInput, nil), http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, inboundBadInput("inbound: body too large", nil), http.StatusRequestEntityTooLarge)
				return
			}
			writeError(w, inboundBadInput("inbound: read body", nil), 0)
			return
		}
		headers := make(map[string]string, len(r.Header))
		for key := range r.Header {
			headers[key] = r.Header.Get(key)
		}
		ack, err := gateway.HandleInbound(r.Context(), InboundRequest{
			Body:       body,
			Headers:    headers,
			RemoteAddr: r.RemoteAddr,
		})
		if err != nil {
			writeError(w, err, 0)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(ack)
	})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message  string `json:"message"`
	TextCode string `json:"text_code"`
	Code     int    `json:"code"`
}

func writeError(w http.ResponseWriter, err error, status int) {
	mapped := core.MapError(err)
	if status == 0 {
		status = mapped.Code
	}
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorDetail{
		Message:  mapped.Message,
		TextCode: mapped.TextCode,
		Code:     status,
	}})
}
