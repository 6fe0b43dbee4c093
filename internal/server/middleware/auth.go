package middleware

import (
	"bytes"
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/bazaar/internal/crypto"
	"github.com/ethereum/go-ethereum/common"
)

// maxSignedBody bounds how much of a request body Auth buffers to verify a
// signature.
const maxSignedBody = 1 << 20

type callerKey struct{}

// WithCaller returns ctx carrying the authenticated account.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// CallerFrom returns the account an authenticated request acts for.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// AuthConfig selects the accepted credentials. secp256k1 request signatures
// are always accepted; they name their own account.
type AuthConfig struct {
	// APIKey lets a trusted gateway act for the address in X-Bazaar-Address.
	APIKey string
	// HMAC verifies shared-secret signatures when set.
	HMAC *crypto.HMACAuth
	// MaxSkew bounds how far a signed timestamp may sit from now.
	MaxSkew time.Duration
	Now     func() time.Time
}

// Auth returns middleware that resolves the caller of every state-changing
// request. Reads pass through unauthenticated. A request is accepted when
// it carries one of:
//
//   - X-Bazaar-Timestamp and a 65-byte secp256k1 X-Bazaar-Signature over the
//     request digest; the recovered signer is the caller
//   - X-Bazaar-Timestamp and an HMAC X-Bazaar-Signature plus X-Bazaar-Address
//   - the API key as a Bearer token or X-API-Key plus X-Bazaar-Address
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			var caller common.Address
			if sig := r.Header.Get(crypto.HeaderSignature); sig != "" {
				addr, msg := verifySigned(r, sig, cfg, now())
				if msg != "" {
					writeUnauthorized(w, msg)
					return
				}
				caller = addr
			} else {
				token := extractToken(r)
				if token == "" || cfg.APIKey == "" {
					writeUnauthorized(w, "missing authentication token")
					return
				}
				// Constant-time comparison to prevent timing attacks.
				if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIKey)) != 1 {
					writeUnauthorized(w, "invalid authentication token")
					return
				}
				addr, ok := headerAddress(r)
				if !ok {
					writeUnauthorized(w, "missing or invalid "+crypto.HeaderAddress)
					return
				}
				caller = addr
			}

			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

// verifySigned checks a signed request and returns its caller, or a
// rejection message.
func verifySigned(r *http.Request, sig string, cfg AuthConfig, now time.Time) (common.Address, string) {
	tsHeader := r.Header.Get(crypto.HeaderTimestamp)
	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return common.Address{}, "missing or invalid " + crypto.HeaderTimestamp
	}
	if cfg.MaxSkew > 0 {
		skew := now.Sub(time.Unix(ts, 0))
		if skew < -cfg.MaxSkew || skew > cfg.MaxSkew {
			return common.Address{}, "request timestamp outside the accepted window"
		}
	}

	body, err := bufferBody(r)
	if err != nil {
		return common.Address{}, "unreadable request body"
	}

	named, hasNamed := headerAddress(r)
	if isSecp256k1(sig) {
		signer, err := crypto.RecoverRequestSigner(sig, ts, r.Method, r.URL.Path, body)
		if err != nil {
			return common.Address{}, "invalid request signature"
		}
		if hasNamed && named != signer {
			return common.Address{}, "signature does not match " + crypto.HeaderAddress
		}
		return signer, ""
	}

	if cfg.HMAC == nil {
		return common.Address{}, "invalid request signature"
	}
	if !hasNamed {
		return common.Address{}, "missing or invalid " + crypto.HeaderAddress
	}
	if !cfg.HMAC.Verify(sig, tsHeader, r.Method, r.URL.Path, body) {
		return common.Address{}, "invalid request signature"
	}
	return named, ""
}

// bufferBody reads the request body and puts it back for the handler.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
	r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// isSecp256k1 reports whether sig has the shape of a 65-byte hex signature.
func isSecp256k1(sig string) bool {
	return strings.HasPrefix(sig, "0x") && len(sig) == 2+130
}

func headerAddress(r *http.Request) (common.Address, bool) {
	v := strings.TrimSpace(r.Header.Get(crypto.HeaderAddress))
	if !common.IsHexAddress(v) {
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
