package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/bazaar/internal/domain"
)

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func (heldLocks) AcquireLease(context.Context, string, time.Duration) (domain.Lease, error) {
	return nil, domain.ErrLockHeld
}

// counter answers every request with the number of times it ran.
func counter(status int) (http.Handler, *int) {
	n := 0
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(`{"run":` + strconv.Itoa(n) + `}`))
	}), &n
}

func idemRequest(method, path, key string, caller common.Address) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	return req.WithContext(WithCaller(req.Context(), caller))
}

func TestIdempotencyReplaysSuccess(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewMemoryIdempotencyStore()
	next, runs := counter(http.StatusCreated)
	h := Idempotency(IdempotencyConfig{Store: store, Scope: "chain-1"}, logger)(next)
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb0")

	tests := []struct {
		name       string
		req        *http.Request
		wantBody   string
		wantReplay bool
	}{
		{"first", idemRequest(http.MethodPost, "/api/listings", "k1", alice), `{"run":1}`, false},
		{"repeat", idemRequest(http.MethodPost, "/api/listings", "k1", alice), `{"run":1}`, true},
		{"other caller", idemRequest(http.MethodPost, "/api/listings", "k1", bob), `{"run":2}`, false},
		{"other path", idemRequest(http.MethodPost, "/api/approvals", "k1", alice), `{"run":3}`, false},
		{"no key", idemRequest(http.MethodPost, "/api/listings", "", alice), `{"run":4}`, false},
		{"reads ignored", idemRequest(http.MethodGet, "/api/listings", "k1", alice), `{"run":5}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req)
			if rec.Code != http.StatusCreated || rec.Body.String() != tt.wantBody {
				t.Fatalf("got %d %s, want %s", rec.Code, rec.Body, tt.wantBody)
			}
			if got := rec.Header().Get(HeaderIdempotentReplay) == "true"; got != tt.wantReplay {
				t.Fatalf("replay header = %v", got)
			}
			if rec.Header().Get("Content-Type") != "application/json" {
				t.Fatalf("content type = %q", rec.Header().Get("Content-Type"))
			}
		})
	}
	if *runs != 5 {
		t.Fatalf("handler ran %d times", *runs)
	}

	// A different scope, such as a restarted chain, never sees old records.
	rescoped := Idempotency(IdempotencyConfig{Store: store, Scope: "chain-2"}, logger)(next)
	rec := httptest.NewRecorder()
	rescoped.ServeHTTP(rec, idemRequest(http.MethodPost, "/api/listings", "k1", alice))
	if rec.Header().Get(HeaderIdempotentReplay) != "" {
		t.Fatal("replayed across scopes")
	}
}

func TestIdempotencySkipsFailures(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	next, runs := counter(http.StatusConflict)
	h := Idempotency(IdempotencyConfig{Store: NewMemoryIdempotencyStore()}, logger)(next)
	alice := common.HexToAddress("0xa1")

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, idemRequest(http.MethodPost, "/api/listings/x/buy", "k", alice))
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d", rec.Code)
		}
	}
	if *runs != 2 {
		t.Fatalf("failed response was replayed; handler ran %d times", *runs)
	}
}

func TestIdempotencyExpiry(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := now
	store := NewMemoryIdempotencyStore()
	store.now = func() time.Time { return clock }
	next, runs := counter(http.StatusOK)
	h := Idempotency(IdempotencyConfig{
		Store: store,
		TTL:   time.Minute,
		Now:   func() time.Time { return clock },
	}, logger)(next)
	alice := common.HexToAddress("0xa1")

	h.ServeHTTP(httptest.NewRecorder(), idemRequest(http.MethodPost, "/api/faucet", "k", alice))
	clock = clock.Add(2 * time.Minute)
	h.ServeHTTP(httptest.NewRecorder(), idemRequest(http.MethodPost, "/api/faucet", "k", alice))
	if *runs != 2 {
		t.Fatalf("expired record replayed; handler ran %d times", *runs)
	}
}

func TestIdempotencyInFlight(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	next, runs := counter(http.StatusOK)
	h := Idempotency(IdempotencyConfig{Store: NewMemoryIdempotencyStore(), Locks: heldLocks{}}, logger)(next)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, idemRequest(http.MethodPost, "/api/listings", "k", common.HexToAddress("0xa1")))
	if rec.Code != http.StatusConflict || *runs != 0 {
		t.Fatalf("status = %d, runs = %d", rec.Code, *runs)
	}

	rec = httptest.NewRecorder()
	long := strings.Repeat("k", maxIdempotencyKey+1)
	req := idemRequest(http.MethodPost, "/api/listings", "", common.HexToAddress("0xa1"))
	req.Header.Set(HeaderIdempotencyKey, long)
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("long key status = %d", rec.Code)
	}
}
