package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-storefront-queue/internal/orders"
	"github.com/ariefcatur/go-storefront-queue/internal/orders/orderstest"
)

type apiFixture struct {
	store  *orderstest.Store
	events *orderstest.Events
	srv    *httptest.Server
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	return newAPIWithRedis(t, nil)
}

func newAPIWithRedis(t *testing.T, rdb *redis.Client) *apiFixture {
	t.Helper()
	st := orderstest.NewStore()
	st.AddStore(1, "+5491100000000")
	price := int64(1000)
	cheap := int64(500)
	st.AddProduct(orders.CatalogProduct{ID: 10, StoreID: 1, Name: "Mate", PriceCents: &price})
	st.AddProduct(orders.CatalogProduct{ID: 20, StoreID: 1, Name: "Bombilla", PriceCents: &cheap})

	var mu sync.Mutex
	clock := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	events := &orderstest.Events{}
	svc := &orders.Service{
		Repo:    st,
		Catalog: st,
		Stores:  st,
		Events:  events,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
	}
	router := NewRouter(nil, time.Second)
	(&OrdersHandler{Service: svc, Validate: NewValidator(), Redis: rdb}).Register(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &apiFixture{store: st, events: events, srv: srv}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd *bytes.Reader
	if s, ok := body.(string); ok {
		rd = bytes.NewReader([]byte(s))
	} else if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	f := newAPI(t)
	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestIntentEnrollDecideFlow(t *testing.T) {
	f := newAPI(t)

	var i1, i2 createIntentResp
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/stores/1/intents",
		map[string]any{"product_id": 10, "quantity": 2, "buyer": map[string]string{"name": "Ana", "phone": "+54 11"}}, &i1))
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/stores/1/intents", map[string]any{"product_id": 20}, &i2))
	assert.NotEmpty(t, i1.PublicToken)
	assert.False(t, i1.Idempotent)

	var view orders.OrderView
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/orders/"+i1.PublicToken, nil, &view))
	assert.Equal(t, int64(2000), view.TotalCents)
	assert.Nil(t, view.Position)
	assert.Equal(t, "Ana", view.Buyer.Name)

	var proof orders.ProofResult
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/orders/"+i1.PublicToken+"/proof", map[string]string{"media_id": "m-1"}, &proof))
	assert.Equal(t, orders.PaymentVerifying, proof.PaymentStatus)

	var e1, e2 orders.EnrollResult
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/orders/"+i1.PublicToken+"/request", nil, &e1))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/orders/"+i2.PublicToken+"/request", nil, &e2))
	require.NotNil(t, e1.Position)
	require.NotNil(t, e2.Position)
	assert.Equal(t, 1, *e1.Position)
	assert.Equal(t, 2, *e2.Position)
	assert.Equal(t, "second in line, almost there", e2.PositionMessage)

	var queue struct {
		StoreID int64              `json:"store_id"`
		Orders  []orders.OrderView `json:"orders"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/stores/1/queue", nil, &queue))
	require.Len(t, queue.Orders, 2)
	assert.Equal(t, i1.OrderID, queue.Orders[0].ID)

	var dec orders.DecisionResult
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/seller/orders/"+itoa(i1.OrderID)+"/decision", map[string]string{"decision": "REJECT"}, &dec))
	assert.Equal(t, orders.StatusCancelled, dec.Status)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/orders/"+i2.PublicToken, nil, &view))
	require.NotNil(t, view.Position)
	assert.Equal(t, 1, *view.Position)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/stores/1/queue?status=CANCELADA", nil, &queue))
	require.Len(t, queue.Orders, 1)
	assert.Nil(t, queue.Orders[0].Position)

	var conflict map[string]string
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPut, "/orders/"+i1.PublicToken+"/buyer", map[string]string{"name": "X", "phone": "1"}, &conflict))
	assert.Equal(t, "conflict", conflict["error"])

	var m orders.Metrics
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/stores/1/metrics?range=week", nil, &m))
	assert.Equal(t, orders.RangeWeek, m.Range)
	assert.Zero(t, m.OrderCount)

	assert.Equal(t, []string{
		orders.EventIntentCreated, orders.EventIntentCreated, orders.EventProofAttached,
		orders.EventQueueEnrolled, orders.EventQueueEnrolled, orders.EventOrderDecided,
	}, f.events.Types())
}

func TestErrorMapping(t *testing.T) {
	f := newAPI(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad json", http.MethodPost, "/stores/1/intents", "{", http.StatusBadRequest},
		{"missing product", http.MethodPost, "/stores/1/intents", map[string]any{"quantity": 1}, http.StatusBadRequest},
		{"huge quantity", http.MethodPost, "/stores/1/intents", map[string]any{"product_id": 10, "quantity": int64(1) << 40}, http.StatusBadRequest},
		{"bad email", http.MethodPost, "/stores/1/intents", map[string]any{"product_id": 10, "buyer": map[string]string{"email": "nope"}}, http.StatusBadRequest},
		{"bad store id", http.MethodPost, "/stores/abc/intents", map[string]any{"product_id": 10}, http.StatusBadRequest},
		{"unknown store", http.MethodPost, "/stores/9/intents", map[string]any{"product_id": 10}, http.StatusNotFound},
		{"unknown product", http.MethodPost, "/stores/1/intents", map[string]any{"product_id": 99}, http.StatusNotFound},
		{"unknown token", http.MethodGet, "/orders/missing", nil, http.StatusNotFound},
		{"enroll unknown", http.MethodPost, "/orders/missing/request", nil, http.StatusNotFound},
		{"empty media", http.MethodPost, "/orders/missing/proof", map[string]string{}, http.StatusBadRequest},
		{"unknown order decision", http.MethodPost, "/seller/orders/999999/decision", map[string]string{"decision": "ACCEPT"}, http.StatusNotFound},
		{"missing decision", http.MethodPost, "/seller/orders/1/decision", map[string]string{}, http.StatusBadRequest},
		{"bad status filter", http.MethodGet, "/stores/1/queue?status=LOST", nil, http.StatusBadRequest},
		{"bad range", http.MethodGet, "/stores/1/metrics?range=decade", nil, http.StatusBadRequest},
		{"buyer without phone", http.MethodPut, "/orders/x/buyer", map[string]string{"name": "A"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.do(t, tt.method, tt.path, tt.body, nil))
		})
	}
	assert.Equal(t, 0, f.store.Len())
}

func TestValidationErrorBody(t *testing.T) {
	f := newAPI(t)
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/stores/1/intents", map[string]any{"variant_id": -1}, &body))
	assert.Equal(t, "validation_failed", body.Error)
	byField := map[string]string{}
	for ns, tag := range body.Fields {
		byField[ns[strings.LastIndex(ns, ".")+1:]] = tag
	}
	assert.Equal(t, map[string]string{"product_id": "required", "variant_id": "gt"}, byField)
}

func TestInternalErrorIsGeneric(t *testing.T) {
	f := newAPI(t)
	f.store.FailCreate = errors.New("pq: connection refused to 10.0.0.5")

	var body map[string]string
	require.Equal(t, http.StatusInternalServerError, f.do(t, http.MethodPost, "/stores/1/intents", map[string]any{"product_id": 10}, &body))
	assert.Equal(t, map[string]string{"error": "internal"}, body)
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
