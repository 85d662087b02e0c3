package requestid

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/pawtrail/walkledger/pkg/logger"
)

const (
	Header = "X-Request-ID"

	maxLength = 128
)

var validID = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

type ctxKey struct{}

func WithContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the request ID, or "" when none is set.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// LogExtractor adds request_id to log records written with a request context.
func LogExtractor(ctx context.Context) (slog.Attr, bool) {
	id := FromContext(ctx)
	return logger.RequestID(id), id != ""
}

// Middleware reuses a well-formed inbound X-Request-ID or generates a new
// one, echoes it in the response and stores it in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if !valid(id) {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), id)))
	})
}

func valid(id string) bool {
	return id != "" && len(id) <= maxLength && validID.MatchString(id)
}
