package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/navid-fn/pricio/internal/ledger"
	"github.com/navid-fn/pricio/internal/models"
	"github.com/navid-fn/pricio/internal/storage"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	router  *gin.Engine
	product *models.Product
	listing *models.StoreListing
	run     *models.ScrapeRun
}

func setup(t *testing.T) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	s := storage.NewMemoryStore()

	p := &models.Product{CanonicalKey: "сметана|простоквашино|300g", Name: "Сметана 20%"}
	if _, err := s.InsertProduct(ctx, p); err != nil {
		t.Fatal(err)
	}
	l := &models.StoreListing{ProductID: p.ID, Store: "magnit", SKU: "777", Name: "Сметана 20% 300 г", Active: true}
	if err := s.CreateListing(ctx, l); err != nil {
		t.Fatal(err)
	}

	lg := ledger.New(s)
	for i, price := range []string{"150", "129.99"} {
		err := s.WithinTx(ctx, func(r storage.ListingRepository) error {
			_, _, err := lg.Record(ctx, r, l, ledger.Observation{
				Price:      decimal.RequireFromString(price),
				Currency:   "RUB",
				ObservedAt: base.Add(time.Duration(i) * time.Hour),
			})
			return err
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	run := &models.ScrapeRun{Store: "magnit", Mode: models.ModeDemo, Status: models.RunCompleted, StartedAt: base}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	h := NewPriceHandler(NewPriceService(s, []string{"5ka", "magnit"}))
	h.now = func() time.Time { return base.Add(2 * time.Hour) }
	return fixture{router: NewRouter(&Config{PriceHandler: h}), product: p, listing: l, run: run}
}

func get(t *testing.T, router *gin.Engine, path string, out any) int {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("GET %s: invalid JSON: %v", path, err)
		}
	}
	return w.Code
}

func TestHealthz(t *testing.T) {
	f := setup(t)
	if code := get(t, f.router, "/healthz", nil); code != http.StatusOK {
		t.Errorf("Expected 200, got %d", code)
	}
}

func TestRunsEndpoints(t *testing.T) {
	f := setup(t)

	var runs []models.ScrapeRun
	if code := get(t, f.router, "/v1/runs?store=magnit", &runs); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(runs) != 1 || runs[0].ID != f.run.ID {
		t.Errorf("Expected the seeded run, got %+v", runs)
	}

	var run models.ScrapeRun
	if code := get(t, f.router, "/v1/runs/"+f.run.ID.String(), &run); code != http.StatusOK || run.Status != models.RunCompleted {
		t.Errorf("Expected completed run, got %d %+v", code, run)
	}

	tests := []struct {
		path     string
		expected int
	}{
		{"/v1/runs/not-a-uuid", http.StatusBadRequest},
		{"/v1/runs/" + uuid.NewString(), http.StatusNotFound},
		{"/v1/runs?limit=0", http.StatusBadRequest},
		{"/v1/runs?limit=500", http.StatusOK},
	}
	for _, tt := range tests {
		if code := get(t, f.router, tt.path, nil); code != tt.expected {
			t.Errorf("GET %s: expected %d, got %d", tt.path, tt.expected, code)
		}
	}
}

func TestProductEndpoint(t *testing.T) {
	f := setup(t)

	var view ProductView
	if code := get(t, f.router, "/v1/products/"+f.product.ID.String(), &view); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(view.Listings) != 1 || view.Listings[0].Store != "magnit" {
		t.Errorf("Expected the magnit listing, got %+v", view.Listings)
	}
	if !view.Listings[0].CurrentPrice.Equal(decimal.RequireFromString("129.99")) {
		t.Errorf("Expected current price 129.99, got %s", view.Listings[0].CurrentPrice)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	f := setup(t)

	var history HistoryView
	if code := get(t, f.router, "/v1/listings/"+f.listing.ID.String()+"/history", &history); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(history.Observations) != 2 {
		t.Fatalf("Expected 2 observations, got %d", len(history.Observations))
	}
	if !history.Observations[0].Price.Equal(decimal.RequireFromString("150")) {
		t.Errorf("Expected oldest observation first, got %s", history.Observations[0].Price)
	}

	if code := get(t, f.router, "/v1/listings/"+uuid.NewString()+"/history", nil); code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown listing, got %d", code)
	}
}

func TestDropsEndpoint(t *testing.T) {
	f := setup(t)

	var drops []models.PriceDropEvent
	if code := get(t, f.router, "/v1/drops", &drops); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(drops) != 1 || !drops[0].Delta.Equal(decimal.RequireFromString("20.01")) {
		t.Errorf("Expected one drop of 20.01, got %+v", drops)
	}

	later := base.Add(90 * time.Minute).Format(time.RFC3339)
	drops = nil
	if code := get(t, f.router, "/v1/drops?since="+later, &drops); code != http.StatusOK || len(drops) != 0 {
		t.Errorf("Expected no drops after %s, got %d %+v", later, code, drops)
	}

	if code := get(t, f.router, "/v1/drops?since=yesterday", nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for a bad since, got %d", code)
	}
}
