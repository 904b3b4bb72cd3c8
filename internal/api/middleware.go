package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/samber/lo"
)

// AccessTokenHeader carries the shared access token. The token query
// parameter is accepted as well.
const AccessTokenHeader = "X-Access-Token"

// requireToken answers 404 for a missing or wrong token so the API surface
// is not discoverable without it.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := lo.CoalesceOrEmpty(r.URL.Query().Get("token"), r.Header.Get(AccessTokenHeader))
		if s.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
			writeNotFound(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
