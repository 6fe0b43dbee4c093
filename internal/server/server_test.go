package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/bazaar/internal/chain"
	"github.com/alanyoungcy/bazaar/internal/crypto"
	"github.com/alanyoungcy/bazaar/internal/metrics"
	"github.com/alanyoungcy/bazaar/internal/registry"
	"github.com/alanyoungcy/bazaar/internal/server/handler"
	"github.com/alanyoungcy/bazaar/internal/server/middleware"
	"github.com/alanyoungcy/bazaar/internal/service"
)

func newAPI(t *testing.T, idem middleware.IdempotencyConfig) (http.Handler, *chain.Chain) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ch := chain.New(chain.NewManualClock(time.Unix(1_700_000_000, 0)), logger)
	dep, err := registry.Deploy(registry.DeployOptions{
		Owner:        chain.NewAddress("owner"),
		FeeRecipient: chain.NewAddress("treasury"),
		FeeBps:       250,
	})
	if err != nil {
		t.Fatal(err)
	}
	client := registry.NewClient(ch, dep.Registry)
	m := metrics.New()
	svc := service.NewMarketService(client, nil, m, logger)
	catalog := service.NewCatalog(client, logger)
	head := func() (uint64, uint64) {
		b := ch.Head()
		return b.Number, b.Time
	}

	h := NewHandler(Config{
		Auth:        middleware.AuthConfig{APIKey: "k"},
		Metrics:     m,
		Idempotency: idem,
	}, Handlers{
		Health:   handler.NewHealthHandler("node", head, nil, logger),
		Listings: handler.NewListingHandler(svc, catalog, logger),
		Sales:    handler.NewSaleHandler(svc, catalog, logger),
		Accounts: handler.NewAccountHandler(svc, catalog, logger),
		Admin:    handler.NewAdminHandler(svc, catalog, logger),
		Events:   handler.NewEventHandler(catalog, logger),
	}, nil, logger)
	return h, ch
}

func do(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes(t *testing.T) {
	h, ch := newAPI(t, middleware.IdempotencyConfig{})
	buyer := chain.NewAddress("buyer")
	ch.Fund(buyer, big.NewInt(500))
	as := func(addr string) map[string]string {
		return map[string]string{"X-API-Key": "k", crypto.HeaderAddress: addr}
	}
	seller := chain.NewAddress("seller").Hex()

	rec := do(h, http.MethodPost, "/api/listings", `{"metadata_uri":"ipfs://x","price":"100","sale_type":"fixed_price"}`, as(seller))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	if rec.Header().Get(middleware.HeaderRequestID) == "" {
		t.Fatal("no request id on response")
	}
	var created service.TxResult
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	id := created.ListingID

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
		want    int
	}{
		{"get listing", http.MethodGet, "/api/listings/" + id, nil, http.StatusOK},
		{"buy unauthenticated", http.MethodPost, "/api/listings/" + id + "/buy", nil, http.StatusUnauthorized},
		{"buy", http.MethodPost, "/api/listings/" + id + "/buy", as(buyer.Hex()), http.StatusOK},
		{"buy twice", http.MethodPost, "/api/listings/" + id + "/buy", as(buyer.Hex()), http.StatusConflict},
		{"auction of fixed listing", http.MethodGet, "/api/listings/" + id + "/auction", nil, http.StatusNotFound},
		{"list needs projection", http.MethodGet, "/api/listings", nil, http.StatusServiceUnavailable},
		{"settings", http.MethodGet, "/api/settings", nil, http.StatusOK},
		{"health", http.MethodGet, "/api/health", nil, http.StatusOK},
		{"metadata needs storage", http.MethodPut, "/api/metadata", as(seller), http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/api/listings/" + id, as(seller), http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, tt.method, tt.path, "", tt.headers)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
			}
		})
	}

	rec = do(h, http.MethodGet, "/api/metrics", "", nil)
	if !strings.Contains(rec.Body.String(), `bazaar_transactions_total{op="buy",outcome="ok"} 1`) {
		t.Fatalf("metrics missing tx count:\n%s", rec.Body)
	}
}

func TestIdempotentCreate(t *testing.T) {
	h, _ := newAPI(t, middleware.IdempotencyConfig{
		Store: middleware.NewMemoryIdempotencyStore(),
		Scope: "test",
	})
	headers := map[string]string{
		"X-API-Key":                     "k",
		crypto.HeaderAddress:            chain.NewAddress("seller").Hex(),
		middleware.HeaderIdempotencyKey: "create-1",
	}
	body := `{"metadata_uri":"ipfs://x","price":"100","sale_type":"fixed_price"}`

	first := do(h, http.MethodPost, "/api/listings", body, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", first.Code, first.Body)
	}
	second := do(h, http.MethodPost, "/api/listings", body, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay: %d %s", second.Code, second.Body)
	}
	if second.Header().Get(middleware.HeaderIdempotentReplay) != "true" {
		t.Fatal("second response was not a replay")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replayed body differs:\n%s\n%s", first.Body, second.Body)
	}

	headers[middleware.HeaderIdempotencyKey] = "create-2"
	third := do(h, http.MethodPost, "/api/listings", body, headers)
	var a, b service.TxResult
	if err := json.Unmarshal(first.Body.Bytes(), &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(third.Body.Bytes(), &b); err != nil {
		t.Fatal(err)
	}
	if a.ListingID == b.ListingID {
		t.Fatalf("new key reused listing %s", a.ListingID)
	}
}
