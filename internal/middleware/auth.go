package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mathomhouse/mathom/internal/auth"
	"github.com/mathomhouse/mathom/internal/store"
)

// RequireAuth validates the bearer token, checks that its session has not
// been revoked, and populates the request's AuthContext.
func RequireAuth(issuer *auth.TokenIssuer, sessions *store.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeUnauthenticated(w, "missing or malformed authorization header")
				return
			}

			claims, err := issuer.Verify(token)
			if err != nil {
				writeUnauthenticated(w, "invalid or expired token")
				return
			}

			sess, err := sessions.GetByID(claims.ID)
			if err != nil || sess == nil || sess.UserID != claims.Subject {
				writeUnauthenticated(w, "session revoked or expired")
				return
			}

			ac := auth.AuthContext{
				UID:       claims.Subject,
				Email:     claims.Email,
				SessionID: claims.ID,
			}
			next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func writeUnauthenticated(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"data":    nil,
		"error":   map[string]string{"code": "UNAUTHENTICATED", "message": message},
	})
}
