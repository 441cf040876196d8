package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/example/pos-billing/internal/logging"
	"github.com/google/uuid"
)

const (
	reqBodyLimit  = 8 * 1024 // 8KB
	respBodyLimit = 8 * 1024 // 8KB

	RequestIDHeader = "X-Request-Id"
)

// Keys are matched case-insensitively by suffix, so gatewaySignature and
// encodedPassword are covered too.
var redactedSuffixes = []string{
	"password",
	"authorization",
	"token",
	"secret",
	"signature",
}

func redactedKey(k string) bool {
	k = strings.ToLower(k)
	for _, s := range redactedSuffixes {
		if strings.HasSuffix(k, s) {
			return true
		}
	}
	return false
}

// responseRecorder keeps the status code and a capped copy of the body.
type responseRecorder struct {
	http.ResponseWriter
	status int
	size   int
	buf    bytes.Buffer
}

func (w *responseRecorder) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	if w.buf.Len() < respBodyLimit {
		remain := respBodyLimit - w.buf.Len()
		if len(b) > remain {
			w.buf.Write(b[:remain])
		} else {
			w.buf.Write(b)
		}
	}
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func (w *responseRecorder) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func redactJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return raw
	}
	var m any
	if err := json.Unmarshal(raw, &m); err != nil {
		return raw // not JSON
	}
	var scrub func(any) any
	scrub = func(x any) any {
		switch v := x.(type) {
		case map[string]any:
			for k, val := range v {
				if redactedKey(k) {
					v[k] = "***redacted***"
					continue
				}
				v[k] = scrub(val)
			}
			return v
		case []any:
			for i := range v {
				v[i] = scrub(v[i])
			}
			return v
		default:
			return v
		}
	}
	b, err := json.Marshal(scrub(m))
	if err != nil {
		return raw
	}
	return b
}

// readCapped reads at most n bytes for logging and returns a reader that
// replays the full original body.
func readCapped(rc io.ReadCloser, n int) (logged []byte, truncated bool, body io.ReadCloser) {
	var buf bytes.Buffer
	_, _ = io.CopyN(&buf, rc, int64(n+1))
	head := buf.Bytes()
	body = &readCloser{Reader: io.MultiReader(bytes.NewReader(head), rc), closer: rc}
	if len(head) > n {
		return head[:n:n], true, body
	}
	return head, false, body
}

type readCloser struct {
	io.Reader
	closer io.Closer
}

func (r *readCloser) Close() error { return r.closer.Close() }

// ClientIP returns the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Logging logs every request and response and injects a request-scoped
// slog.Logger into the context.
func Logging(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
				r.Header.Set(RequestIDHeader, reqID)
			}
			w.Header().Set(RequestIDHeader, reqID)

			l := base.With(
				"req_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"remote", ClientIP(r),
			)
			r = r.WithContext(logging.WithCtx(r.Context(), l))

			// capture request body (JSON only)
			var reqBodyLogged string
			if strings.Contains(r.Header.Get("Content-Type"), "application/json") && r.Body != nil {
				logged, truncated, body := readCapped(r.Body, reqBodyLimit)
				r.Body = body
				if truncated {
					// a cut JSON document cannot be redacted
					reqBodyLogged = "...truncated..."
				} else {
					reqBodyLogged = string(redactJSON(logged))
				}
			}

			rec := &responseRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.Status()
			attrs := []any{
				"status", status,
				"dur_ms", time.Since(start).Milliseconds(),
				"resp_bytes", rec.size,
			}
			if reqBodyLogged != "" {
				attrs = append(attrs, "req_body", reqBodyLogged)
			}
			if strings.Contains(rec.Header().Get("Content-Type"), "application/json") {
				resp := "...truncated..."
				if rec.size < respBodyLimit {
					resp = string(redactJSON(rec.buf.Bytes()))
				}
				attrs = append(attrs, "resp_body", resp)
			}

			if status >= http.StatusBadRequest {
				l.Error("http_request", attrs...)
				return
			}
			l.Info("http_request", attrs...)
		})
	}
}
