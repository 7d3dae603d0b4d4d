package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/gomarketplace/cart-engine/internal/api"
	"github.com/gomarketplace/cart-engine/internal/cart"
	"github.com/gomarketplace/cart-engine/internal/persist"
	"github.com/gomarketplace/cart-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a cart store over an in-memory KV store, a hub that
// follows it, and a chi router with the cart routes.
func newTestEnv(t *testing.T) (*cart.Store, *store.MemoryStore, chi.Router) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	kv := store.NewMemoryStore()
	st := cart.New(ctx, persist.NewBridge(kv))
	select {
	case <-st.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("cart never loaded")
	}

	hub := api.NewWSHub()
	go hub.Run(ctx)
	go hub.Follow(ctx, st)

	t.Cleanup(func() {
		cancel()
		closeCtx, done := context.WithTimeout(context.Background(), time.Second)
		defer done()
		st.Close(closeCtx)
	})

	svc := api.NewService(nil)
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cart.Middleware(st))
	r.Get("/api/v1/cart", svc.GetCart)
	r.Post("/api/v1/cart/items", svc.AddItem)
	r.Post("/api/v1/cart/items/{itemID}/increment", svc.IncrementItem)
	r.Post("/api/v1/cart/items/{itemID}/decrement", svc.DecrementItem)
	r.Get("/api/v1/ws", hub.HandleWS)

	return st, kv, r
}

func doAdd(t *testing.T, router chi.Router, req api.AddItemRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/api/v1/cart/items", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func doPost(t *testing.T, router chi.Router, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", path, nil))
	return w
}

func decodeCart(t *testing.T, w *httptest.ResponseRecorder) api.CartResponse {
	t.Helper()
	var resp api.CartResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (%s)", err, w.Body.String())
	}
	return resp
}

// --- Handler tests ---

func TestAddItem_NewAndExisting(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doAdd(t, router, api.AddItemRequest{ID: "A", Title: "Shoe", ImageURL: "u", Price: d(10)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeCart(t, w)
	if len(resp.Items) != 1 || resp.Items[0].Quantity != 1 {
		t.Fatalf("expected one item with qty=1, got %+v", resp.Items)
	}

	w = doAdd(t, router, api.AddItemRequest{ID: "A", Title: "Shoe-renamed", ImageURL: "u2", Price: d(99)})
	resp = decodeCart(t, w)
	item := resp.Items[0]
	if item.Quantity != 2 {
		t.Errorf("expected qty=2, got %d", item.Quantity)
	}
	if item.Title != "Shoe" || item.ImageURL != "u" || item.Price != "10" {
		t.Errorf("stored fields should be kept, got %+v", item)
	}
	if resp.Units != 2 {
		t.Errorf("expected units=2, got %d", resp.Units)
	}
}

func TestCartResponse_PriceIsNumber(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doAdd(t, router, api.AddItemRequest{ID: "A", Title: "Shoe", Price: d(10.25)})
	if !strings.Contains(w.Body.String(), `"price":10.25`) {
		t.Errorf("expected bare numeric price, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/cart", nil))
	if !strings.Contains(w.Body.String(), `"price":10.25`) {
		t.Errorf("expected bare numeric price on read, got %s", w.Body.String())
	}
}

func TestAddItem_InvalidBody(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/cart/items", strings.NewReader("{bad")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid body, got %d", w.Code)
	}

	w = doAdd(t, router, api.AddItemRequest{Title: "no id"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing id, got %d", w.Code)
	}
}

func TestIncrementDecrement(t *testing.T) {
	st, _, router := newTestEnv(t)
	doAdd(t, router, api.AddItemRequest{ID: "A", Title: "Shoe", Price: d(10)})

	resp := decodeCart(t, doPost(t, router, "/api/v1/cart/items/A/increment"))
	if resp.Items[0].Quantity != 2 {
		t.Fatalf("expected qty=2, got %d", resp.Items[0].Quantity)
	}

	for _, want := range []int{1, 0, 0} {
		resp = decodeCart(t, doPost(t, router, "/api/v1/cart/items/A/decrement"))
		if resp.Items[0].Quantity != want {
			t.Fatalf("expected qty=%d, got %d", want, resp.Items[0].Quantity)
		}
	}

	if got := st.Products(); len(got) != 1 || got[0].Quantity != 0 {
		t.Errorf("store disagrees with responses: %+v", got)
	}
}

func TestIncrement_UnknownID(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doPost(t, router, "/api/v1/cart/items/ZZZ/increment")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp := decodeCart(t, w); len(resp.Items) != 0 {
		t.Errorf("expected empty cart, got %+v", resp.Items)
	}
}

func TestGetCart_EmptyIsArray(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/cart", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"items":[]`) {
		t.Errorf("expected empty items array, got %s", w.Body.String())
	}
}

func TestMutations_ArePersisted(t *testing.T) {
	st, kv, router := newTestEnv(t)
	doAdd(t, router, api.AddItemRequest{ID: "A", Title: "Shoe", Price: d(10)})
	doAdd(t, router, api.AddItemRequest{ID: "B", Title: "Hat", Price: d(3.5)})
	doPost(t, router, "/api/v1/cart/items/B/increment")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := st.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	blob, err := kv.Get(ctx, persist.DefaultKey)
	if err != nil {
		t.Fatalf("expected persisted blob: %v", err)
	}
	want := `[{"id":"A","title":"Shoe","imageUrl":"","price":10,"quantity":1},` +
		`{"id":"B","title":"Hat","imageUrl":"","price":3.5,"quantity":2}]`
	if string(blob) != want {
		t.Errorf("unexpected blob:\n got %s\nwant %s", blob, want)
	}
}

func TestHandlers_WithoutStoreFailLoudly(t *testing.T) {
	svc := api.NewService(nil)
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/api/v1/cart", svc.GetCart)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/cart", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for unscoped handler, got %d", w.Code)
	}
}

// --- WebSocket tests ---

func TestWS_ReceivesSnapshotAndUpdates(t *testing.T) {
	_, _, router := newTestEnv(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg api.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if msg.Type != "cart_updated" || len(msg.Items) != 0 {
		t.Fatalf("unexpected initial message %+v", msg)
	}

	body, _ := json.Marshal(api.AddItemRequest{ID: "A", Title: "Shoe", Price: d(10)})
	resp, err := http.Post(srv.URL+"/api/v1/cart/items", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()

	// The hub may deliver the pre-add snapshot first if it raced the
	// registration; read until the add shows up.
	for {
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read update: %v", err)
		}
		if len(msg.Items) == 1 {
			break
		}
	}
	if msg.Items[0].ID != "A" || msg.Units != 1 {
		t.Errorf("unexpected update %+v", msg)
	}
}
