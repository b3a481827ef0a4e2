package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
)

const panicDetail = "An unexpected error occurred while processing the request"

// startedWriter records whether the handler already began its response.
type startedWriter struct {
	http.ResponseWriter

	started bool
}

func (sw *startedWriter) WriteHeader(code int) {
	sw.started = true
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *startedWriter) Write(b []byte) (int, error) {
	sw.started = true

	return sw.ResponseWriter.Write(b)
}

// Recovery turns a handler panic into a 500 problem response rendered by write (nil means
// the package default). When the handler had already started its response only the log entry
// is written, since the status line is gone.
func Recovery(logger *slog.Logger, write ProblemWriter) func(http.Handler) http.Handler {
	if write == nil {
		write = writeProblem
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &startedWriter{ResponseWriter: w}

			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}

				logger.Error("HTTP request panic recovered",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("correlation_id", GetCorrelationID(r.Context())),
					slog.String("panic_type", fmt.Sprintf("%T", recovered)),
					slog.Any("panic", recovered),
					slog.Bool("response_started", sw.started),
					slog.String("stack_trace", string(debug.Stack())),
				)

				if !sw.started {
					write(w, r, http.StatusInternalServerError, panicDetail)
				}
			}()

			next.ServeHTTP(sw, r)
		})
	}
}
