package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/livesync/internal/model"
)

type ctxKey string

const (
	accountIDKey ctxKey = "livesync.accountID"
	callerKey    ctxKey = "livesync.caller"
)

// AccessTokenHeader carries the client access token.
const AccessTokenHeader = "x-access-token"

// WithAccountID stores the authenticated account in ctx.
func WithAccountID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, accountIDKey, id)
}

// AccountIDFromCtx returns the account stored by RequireAccessToken.
func AccountIDFromCtx(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(accountIDKey).(uuid.UUID)
	return id, ok
}

// CallerFromCtx returns the subject of the internal bearer token.
func CallerFromCtx(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(callerKey).(string)
	return s, ok
}

// RequireAccessToken resolves the access token header through the token
// index. Unknown tokens get 401.
func RequireAccessToken(tokens TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := model.AccessToken(r.Header.Get(AccessTokenHeader))
			id, ok := tokens.Resolve(tok)
			if tok == "" || !ok {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccountID(r.Context(), id)))
		})
	}
}

// RequireInternalJWT verifies "Authorization: Bearer <JWT>" signed with key
// using HS256 and stores its subject as the caller.
func RequireInternalJWT(key []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sub, err := verifyBearer(r.Header.Get("Authorization"), key)
			if err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: err.Error()})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey, sub)))
		})
	}
}

func verifyBearer(header string, key []byte) (string, error) {
	tok, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tok == "" {
		return "", errors.New("missing bearer token")
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return key, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.New("empty subject")
	}
	return claims.Subject, nil
}

// IssueInternalToken signs a bearer token for another backend component.
func IssueInternalToken(key []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}
