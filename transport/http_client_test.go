package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

func TestClient_PostsBodyAndHeaders(t *testing.T) {
	var gotBody, gotSignature, gotMethod string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		gotBody = string(payload)
		gotSignature = r.Header.Get(core.HeaderSignature)
		gotMethod = r.Method
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := NewClient(server.Client())
	res, err := client.Do(context.Background(), Request{
		URL:     server.URL,
		Body:    []byte(`{"event":"ping"}`),
		Headers: map[string]string{core.HeaderSignature: "sha256=abc"},
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if !res.Successful() || res.StatusCode != http.StatusAccepted || string(res.Body) != "ok" || res.Truncated {
		t.Fatalf("unexpected response %+v", res)
	}
	if gotMethod != http.MethodPost || gotBody != `{"event":"ping"}` || gotSignature != "sha256=abc" {
		t.Fatalf("unexpected request method=%s body=%s sig=%s", gotMethod, gotBody, gotSignature)
	}
}

func TestClient_TruncatesLongResponseBodies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 5000)))
	}))
	defer server.Close()

	res, err := NewClient(server.Client()).Do(context.Background(), Request{URL: server.URL})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if len(res.Body) != 4096 || !res.Truncated || res.Successful() {
		t.Fatalf("expected 4096 byte truncated failure body, got len=%d truncated=%v", len(res.Body), res.Truncated)
	}
}

func TestClient_TimeoutReturnsRichExternalError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	_, err := NewClient(server.Client()).Do(context.Background(), Request{URL: server.URL, Timeout: 50 * time.Millisecond})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal || rich.TextCode != core.RelayErrorProcessingFailed || rich.Code != http.StatusBadGateway {
		t.Fatalf("unexpected envelope %+v", rich)
	}
}

func TestClient_RejectsRelativeURL(t *testing.T) {
	_, err := NewClient(nil).Do(context.Background(), Request{URL: "/hook"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.RelayErrorBadInput || rich.Code != http.StatusBadRequest {
		t.Fatalf("expected bad input envelope, got %v", err)
	}
}

func TestClient_NilReturnsInternalError(t *testing.T) {
	var client *Client
	_, err := client.Do(context.Background(), Request{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.RelayErrorInternal || rich.Code != http.StatusInternalServerError {
		t.Fatalf("expected internal envelope, got %v", err)
	}
}
