package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/campusmart/marketplace/internal/domain/auth"
	"github.com/campusmart/marketplace/pkg/httpmiddleware"
)

// Authenticator resolves API keys, stored as HMAC-SHA256 hashes, to the
// calling user.
type Authenticator struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewAuthenticator creates an Authenticator with the given API key
// repository and HMAC pepper.
func NewAuthenticator(apikeys auth.Repository, pepper []byte) *Authenticator {
	return &Authenticator{apikeys: apikeys, pepper: pepper}
}

// Authenticate rejects requests without a valid key with 401 and stores
// the key in the request context otherwise. The key is read from the
// api_key header or an Authorization bearer token.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("api_key")
		if raw == "" {
			raw, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if raw == "" {
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		info, err := a.lookup(r, raw)
		if err != nil {
			if !errors.Is(err, auth.ErrKeyNotFound) {
				zctx.From(r.Context()).Warn("API key lookup failed", zap.Error(err))
			}
			httpmiddleware.WriteError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		ctx := auth.WithKey(r.Context(), info)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) lookup(r *http.Request, raw string) (*auth.APIKeyInfo, error) {
	hexHash := auth.HashKey(a.pepper, raw)
	info, err := a.apikeys.FindByHash(r.Context(), hexHash)
	if err != nil {
		return nil, err
	}

	computed, _ := hex.DecodeString(hexHash)
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, errors.Wrap(err, "decode stored hash")
	}
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return nil, auth.ErrKeyNotFound
	}
	return info, nil
}

// RequireScope rejects authenticated keys lacking scope with 403.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := auth.KeyFrom(r.Context())
			if info == nil {
				httpmiddleware.WriteError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			if !info.HasScope(scope) {
				httpmiddleware.WriteError(w, http.StatusForbidden, "This key cannot access "+scope+" endpoints")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
