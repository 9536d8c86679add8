package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

const prometheusContentType = "text/plain; version=0.0.4; charset=utf-8"

// Handler serves ExportPrometheus. The optional since query parameter is
// either unix seconds or a Go duration measured back from now.
func Handler(store *Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		since, err := parseSince(r.URL.Query().Get("since"), store.now())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body, err := store.ExportPrometheus(r.Context(), since)
		if err != nil {
			store.logger.WithContext(r.Context()).Error("metrics export failed", "error", err)
			http.Error(w, "metrics export failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", prometheusContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	})
}

func parseSince(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	window, err := time.ParseDuration(raw)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-window), nil
}
