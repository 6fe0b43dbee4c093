package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// Header names carried by HMAC-authenticated API requests.
const (
	HeaderAddress   = "X-Bazaar-Address"
	HeaderTimestamp = "X-Bazaar-Timestamp"
	HeaderSignature = "X-Bazaar-Signature"
)

// HMACAuth signs and verifies API requests with a shared secret. The
// address header names the account a trusted gateway acts for.
type HMACAuth struct {
	Secret string
}

// Sign returns base64(HMAC-SHA256(secret, timestamp+method+path+body)).
func (h *HMACAuth) Sign(ts, method, path string, body []byte) string {
	return hmacSHA256Base64([]byte(h.Secret), ts+method+path+string(body))
}

// Headers returns the headers for a request acting for address, stamped now.
func (h *HMACAuth) Headers(address, method, path string, body []byte) map[string]string {
	return h.HeadersAt(address, method, path, body, time.Now().Unix())
}

// HeadersAt is like Headers with a caller-supplied timestamp.
func (h *HMACAuth) HeadersAt(address, method, path string, body []byte, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		HeaderAddress:   address,
		HeaderTimestamp: ts,
		HeaderSignature: h.Sign(ts, method, path, body),
	}
}

// Verify reports whether sig is the signature of the request. The
// comparison is constant time.
func (h *HMACAuth) Verify(sig, ts, method, path string, body []byte) bool {
	want := h.Sign(ts, method, path, body)
	return hmac.Equal([]byte(sig), []byte(want))
}

func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	if len(h.Secret) <= 4 {
		return "HMACAuth{secret=****}"
	}
	return fmt.Sprintf("HMACAuth{secret=%s****}", h.Secret[:4])
}
