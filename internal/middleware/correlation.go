// internal/middleware/correlation.go
//
// Correlation-id middleware.
//
// Every request gets a correlation id — taken from the inbound
// X-Request-ID header when a gateway already minted one, otherwise a
// fresh UUID.  The id rides the request context, is echoed back in the
// response header, and is stamped on every log line written inside the
// unit of work via the logger extractor registered below.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/voyantio/voyant/internal/logger"
)

// CorrelationHeader is the wire name of the correlation id.
const CorrelationHeader = "X-Request-ID"

type correlationKey struct{}

// Correlation seeds the request context with a correlation id.
func Correlation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, id)

		ctx := context.WithValue(r.Context(), correlationKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// WithCorrelationID seeds a background/job context, so fleet sweeps get
// the same log stamping as requests.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored on ctx, if any.
func CorrelationID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationKey{}).(string)
	return id, ok
}

func init() {
	logger.RegisterExtractor(func(ctx context.Context) (string, string, bool) {
		id, ok := CorrelationID(ctx)
		return "correlation_id", id, ok
	})
}
