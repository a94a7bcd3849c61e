package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

// TraceIDKey carries the per-request trace id through the handler chain.
const TraceIDKey contextKey = "trace_id"

// TraceID accepts an inbound X-Trace-ID header or mints a fresh one, and
// echoes it on the response so clients can correlate progress polls.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), TraceIDKey, traceID)
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}
