package middleware

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	app_error "github.com/xenn00/room-sync/internal/errors"
	"github.com/xenn00/room-sync/internal/utils"
	"maunium.net/go/mautrix/id"
)

type claimsKey string

const UserClaimsKey claimsKey = "userClaims"

// JWTAuth accepts RS256 bearer tokens whose subject is a full user id and
// stores that id in the request context.
func JWTAuth(publicKey *rsa.PublicKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAppError(w, app_error.NewAppError(http.StatusUnauthorized, "Missing Authorization header", "auth"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				writeAppError(w, app_error.NewAppError(http.StatusUnauthorized, "Invalid Authorization header format", "auth"))
				return
			}

			claims, err := utils.ParseAndVerifySign(parts[1], publicKey)
			if err != nil {
				log.Error().Err(err).Msg("jwt verify failed")
				if errors.Is(err, jwt.ErrTokenExpired) {
					writeAppError(w, app_error.NewAppError(http.StatusUnauthorized, "Token expired", "auth"))
					return
				}
				writeAppError(w, app_error.NewAppError(http.StatusUnauthorized, "Invalid or expired token", "auth"))
				return
			}

			userID := id.UserID(claims.Subject)
			if _, _, err := userID.Parse(); err != nil {
				writeAppError(w, app_error.NewAppError(http.StatusUnauthorized, "Token subject is not a user id", "auth"))
				return
			}

			ctx := context.WithValue(r.Context(), UserClaimsKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext returns the user id JWTAuth stored.
func UserFromContext(ctx context.Context) (id.UserID, bool) {
	userID, ok := ctx.Value(UserClaimsKey).(id.UserID)
	return userID, ok && userID != ""
}

func writeAppError(w http.ResponseWriter, appErr *app_error.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Code)
	_ = appErr.JSON(w)
}
