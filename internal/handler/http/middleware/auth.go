package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/jwtauth/v5"
	"github.com/tunelog/notify/internal/domain/auth"
	"github.com/tunelog/notify/internal/handler/http/response"
	"github.com/tunelog/notify/internal/pkg/jwt"
)

type userIDKey struct{}

// AuthRequired rejects requests without a verified access token and stores the
// caller's user ID in the request context. It must run after jwtauth.Verifier.
func AuthRequired(next http.Handler) http.Handler {
	hfn := func(w http.ResponseWriter, r *http.Request) {
		token, _, err := jwtauth.FromContext(r.Context())
		if err != nil {
			response.HandleError(w, tokenError(err))
			return
		}
		if token == nil {
			response.HandleError(w, auth.ErrMissingToken)
			return
		}

		userID, err := jwt.UserIDFromToken(r.Context(), token)
		if err != nil {
			response.HandleError(w, auth.ErrInvalidToken)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
	return http.HandlerFunc(hfn)
}

// UserID returns the user ID stored by AuthRequired
func UserID(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}

func tokenError(err error) error {
	switch {
	case errors.Is(err, jwtauth.ErrNoTokenFound):
		return auth.ErrMissingToken
	case errors.Is(err, jwtauth.ErrExpired):
		return auth.ErrTokenExpired
	default:
		return auth.ErrInvalidToken
	}
}
