package middleware

import (
	"errors"
	"net/http"

	"github.com/angelmondragon/unimart-backend/api/responses"
	pkgAuth "github.com/angelmondragon/unimart-backend/pkg/auth"
	"github.com/angelmondragon/unimart-backend/pkg/auth/session"
	"github.com/angelmondragon/unimart-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/unimart-backend/pkg/errors"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
)

// Auth admits requests carrying a valid bearer token whose session is still
// open, and puts the Caller on the context. A nil checker skips the session
// lookup.
func Auth(cfg config.JWTConfig, sessions session.AccessSessionChecker, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, ok := pkgAuth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "bearer token required"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, raw)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, pkgAuth.ErrTokenExpired) {
					msg = "token expired"
				}
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, msg))
				return
			}

			if sessions != nil {
				live, err := sessions.HasSession(ctx, claims.ID)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check session"))
					return
				}
				if !live {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "session ended"))
					return
				}
			}

			caller := Caller{
				UserID:    claims.UserID.String(),
				Role:      string(claims.Role),
				Email:     claims.Email,
				SessionID: claims.ID,
			}
			ctx = WithCaller(ctx, caller)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{"user_id": caller.UserID, "actor_role": caller.Role})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole lets through only callers whose token carries role.
func RequireRole(role string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if RoleFromContext(r.Context()) != role {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Newf(pkgerrors.CodeForbidden, "%s role required", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IsRole reports whether the caller carries role.
func IsRole(r *http.Request, role string) bool {
	return r != nil && RoleFromContext(r.Context()) == role
}
