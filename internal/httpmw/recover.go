package httpmw

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// RecoverWithInternalServerError turns a panicking handler into a 500
// instead of taking the whole process down, the same contract the teacher's
// mymiddleware.RecoverWithInternalServerError provides.
func RecoverWithInternalServerError(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("http handler panic recovered")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
