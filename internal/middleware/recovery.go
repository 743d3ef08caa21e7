package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/BerylCAtieno/receipt-extractor-api/internal/utils"
)

// Recovery turns a handler panic into a 500 envelope.
func Recovery(logger *utils.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rv := recover()
				if rv == nil {
					return
				}
				if rv == http.ErrAbortHandler {
					panic(rv)
				}
				logger.Error("Panic recovered",
					"method", r.Method,
					"path", r.URL.Path,
					"panic", fmt.Sprint(rv),
					"stack", string(debug.Stack()))
				utils.WriteError(w, utils.NewInternalError("Internal server error"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
