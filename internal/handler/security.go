package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/labdesk/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

// SecurityHandler authenticates API requests via HMAC-SHA256 hashed API keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Authenticate resolves the api_key header to an actor and stores it in the
// request context. Unknown keys get 401.
func (s *SecurityHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			writeError(w, r, http.StatusUnauthorized, "missing api key")
			return
		}
		actor, ok := s.lookup(r, key)
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := auth.WithActor(r.Context(), actor)
		ctx = zctx.Base(ctx, zctx.From(ctx).With(zap.String("actor", actor.ID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *SecurityHandler) lookup(r *http.Request, key string) (auth.Actor, bool) {
	hexHash := auth.HashAPIKey(s.pepper, key)
	info, err := s.apikeys.FindByHash(r.Context(), hexHash)
	if err != nil {
		zctx.From(r.Context()).Debug("API key lookup failed", zap.Error(err))
		return auth.Actor{}, false
	}

	// The stored hash must match what we computed even though the lookup
	// was by hash.
	want, err := hex.DecodeString(hexHash)
	if err != nil {
		return auth.Actor{}, false
	}
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(want, stored) != 1 {
		return auth.Actor{}, false
	}
	return info.Actor(), true
}

// requireRole rejects actors whose role is not listed. Admins pass every check.
func requireRole(roles []auth.Role, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := auth.FromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !actor.Allows(roles...) {
			writeError(w, r, http.StatusForbidden, "role "+string(actor.Role)+" may not perform this operation")
			return
		}
		next.ServeHTTP(w, r)
	})
}
