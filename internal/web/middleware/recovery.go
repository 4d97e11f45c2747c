package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	webcontext "github.com/conduit-lang/entityroutes/internal/web/context"
)

// Recovery creates a middleware turning panics into a 500 answered by onPanic.
// The panic is logged with its stack trace.
func Recovery(logger *zap.Logger, onPanic func(w http.ResponseWriter, r *http.Request, err error)) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	if onPanic == nil {
		onPanic = defaultRecoveryResponse
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", rec)
				}
				logger.Error("panic recovered",
					zap.String("request_id", webcontext.GetRequestID(r.Context())),
					zap.String("path", r.URL.Path),
					zap.Error(err),
					zap.ByteString("stack", debug.Stack()))

				onPanic(w, r, err)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func defaultRecoveryResponse(w http.ResponseWriter, _ *http.Request, _ error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(http.StatusText(http.StatusInternalServerError)))
}
