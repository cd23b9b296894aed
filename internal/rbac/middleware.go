package rbac

import (
	"log/slog"
	"net/http"

	"github.com/doorscomputers/stockflow/internal/shared"
)

// Middleware wires capability checks into HTTP routes.
type Middleware struct {
	Authorizer shared.Authorizer
	Logger     *slog.Logger
}

// Require ensures the current actor holds every listed capability.
func (m Middleware) Require(caps ...shared.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := shared.ActorFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			for _, c := range caps {
				if !m.Authorizer.Can(r.Context(), actor, c) {
					if m.Logger != nil {
						m.Logger.Warn("capability denied",
							slog.Int64("actor_id", actor.ID),
							slog.String("capability", c.String()),
							slog.String("path", r.URL.Path),
						)
					}
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
