package gateway

import (
	"net/http"
	"strings"

	"github.com/courseloft/api/internal/platform/requestctx"
)

// Header names populated by the edge gateway after it has verified the caller.
// The service trusts them as-is; requests reach this process only through the
// gateway.
const (
	PrincipalHeader = "X-Gateway-Principal"
	RoleHeader      = "X-Gateway-Role"
)

// PrincipalMiddleware lifts the gateway identity headers onto the request
// context. Requests without a principal pass through anonymously; handlers
// that need identity enforce it themselves.
func PrincipalMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email := strings.ToLower(strings.TrimSpace(r.Header.Get(PrincipalHeader)))
			if email == "" {
				next.ServeHTTP(w, r)
				return
			}
			principal := requestctx.Principal{
				Email: email,
				Role:  strings.TrimSpace(r.Header.Get(RoleHeader)),
			}
			ctx := requestctx.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
