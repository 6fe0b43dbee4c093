package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alanyoungcy/bazaar/internal/domain"
)

// Idempotency headers. A client retrying a write sends the same key and
// gets the first response back instead of a second transaction.
const (
	HeaderIdempotencyKey   = "Idempotency-Key"
	HeaderIdempotentReplay = "Idempotent-Replay"
)

const (
	maxIdempotencyKey = 128
	idempotencyLock   = 30 * time.Second
)

// keyLocker is the part of domain.LockManager the middleware needs.
type keyLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// IdempotencyConfig configures Idempotency.
type IdempotencyConfig struct {
	Store domain.IdempotencyStore
	// Locks serializes requests sharing a key across replicas. Nil falls
	// back to an in-process lock.
	Locks domain.LockManager
	TTL   time.Duration
	// Scope prefixes every stored key. Responses recorded under another
	// scope are never replayed.
	Scope string
	Now   func() time.Time
}

// Idempotency returns middleware that records successful write responses by
// (caller, method, path, Idempotency-Key) and replays them for repeated
// keys. It must run inside Auth. Requests without the header pass through.
func Idempotency(cfg IdempotencyConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	var locks keyLocker = newLocalLocks()
	if cfg.Locks != nil {
		locks = cfg.Locks
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderIdempotencyKey)
			if key == "" || !isWrite(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKey {
				writeJSONError(w, http.StatusBadRequest, "idempotency key too long")
				return
			}

			caller := "anonymous"
			if addr, ok := CallerFrom(r.Context()); ok {
				caller = addr.Hex()
			}
			storeKey := cfg.Scope + ":" + caller + ":" + r.Method + " " + r.URL.Path + ":" + key
			ctx := r.Context()

			unlock, err := locks.Acquire(ctx, "idem:"+storeKey, idempotencyLock)
			switch {
			case errors.Is(err, domain.ErrLockHeld):
				writeJSONError(w, http.StatusConflict, "a request with this idempotency key is in progress")
				return
			case err != nil:
				logger.WarnContext(ctx, "idempotency lock unavailable", slog.String("error", err.Error()))
			default:
				defer unlock()
			}

			rec, err := cfg.Store.Get(ctx, storeKey)
			if err != nil {
				logger.WarnContext(ctx, "idempotency lookup failed", slog.String("error", err.Error()))
			}
			if rec != nil {
				if rec.ContentType != "" {
					w.Header().Set("Content-Type", rec.ContentType)
				}
				w.Header().Set(HeaderIdempotentReplay, "true")
				w.WriteHeader(rec.StatusCode)
				w.Write(rec.Body)
				return
			}

			cw := &captureWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(cw, r)
			if cw.statusCode < 200 || cw.statusCode >= 300 {
				return
			}

			now := cfg.Now()
			err = cfg.Store.Save(ctx, storeKey, domain.IdempotencyRecord{
				StatusCode:  cw.statusCode,
				ContentType: w.Header().Get("Content-Type"),
				Body:        cw.body.Bytes(),
				CreatedAt:   now,
				ExpiresAt:   now.Add(cfg.TTL),
			})
			if err != nil {
				logger.WarnContext(ctx, "idempotency save failed",
					slog.String("request_id", RequestIDFrom(ctx)),
					slog.String("error", err.Error()),
				)
			}
		})
	}
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

// captureWriter passes the response through and keeps a copy of it.
type captureWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
	body        bytes.Buffer
}

func (cw *captureWriter) WriteHeader(code int) {
	if !cw.wroteHeader {
		cw.statusCode = code
		cw.wroteHeader = true
	}
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	cw.wroteHeader = true
	cw.body.Write(b)
	return cw.ResponseWriter.Write(b)
}

// localLocks is a keyLocker for a single process.
type localLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newLocalLocks() *localLocks {
	return &localLocks{held: make(map[string]bool)}
}

func (l *localLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

// MemoryIdempotencyStore keeps records in process memory. It suits node
// mode and tests.
type MemoryIdempotencyStore struct {
	mu   sync.RWMutex
	data map[string]domain.IdempotencyRecord
	now  func() time.Time
}

// NewMemoryIdempotencyStore creates an empty MemoryIdempotencyStore.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		data: make(map[string]domain.IdempotencyRecord),
		now:  time.Now,
	}
}

func (m *MemoryIdempotencyStore) Get(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[key]
	if !ok || m.now().After(rec.ExpiresAt) {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryIdempotencyStore) Save(_ context.Context, key string, rec domain.IdempotencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.data {
		if m.now().After(r.ExpiresAt) {
			delete(m.data, k)
		}
	}
	m.data[key] = rec
	return nil
}

var _ domain.IdempotencyStore = (*MemoryIdempotencyStore)(nil)
