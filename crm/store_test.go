package crm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/storefront_backend/models"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("STORE_BASE_URL", srv.URL)
	t.Setenv("STORE_RATE_LIMIT_PER_MIN", "60000")

	client, err := NewClient(StaticTokenProvider("test-token"))
	if err != nil {
		t.Fatalf("client setup failed: %v", err)
	}
	return NewStore(client)
}

func TestUpdateOrderLinePatchesLabelFields(t *testing.T) {
	var (
		mu        sync.Mutex
		gotPath   string
		gotFields map[string]any
	)
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method != http.MethodPatch {
			t.Errorf("expected PATCH, got %s", r.Method)
		}
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotFields)
		w.WriteHeader(http.StatusNoContent)
	})

	err := store.UpdateOrderLine(context.Background(), &models.OrderLine{
		ID:             "line-1",
		ProductCode:    "P1",
		CategoryLabel:  "PVC Pipe",
		PromotionLabel: "Summer Sale",
		Quantity:       3,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/orderlines(line-1)" {
		t.Fatalf("unexpected patch path %q", gotPath)
	}
	// Updates carry the same field set as creates, labels included.
	if gotFields["category_label"] != "PVC Pipe" {
		t.Fatalf("expected category_label in patch, got %v", gotFields)
	}
	if gotFields["promotion_label"] != "Summer Sale" {
		t.Fatalf("expected promotion_label in patch, got %v", gotFields)
	}
	if gotFields["product_code"] != "P1" {
		t.Fatalf("expected product_code in patch, got %v", gotFields)
	}
}
