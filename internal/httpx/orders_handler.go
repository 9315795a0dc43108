package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-queue/internal/orders"
	"github.com/ariefcatur/go-storefront-queue/internal/redisx"
)

type OrdersHandler struct {
	Service  *orders.Service
	Redis    *redis.Client // optional; enables Idempotency-Key on intents
	Validate *validatorv10.Validate
	Log      *zap.Logger
	Timeout  time.Duration
}

type buyerReq struct {
	Name  string  `json:"name" validate:"omitempty,max=120"`
	Phone string  `json:"phone" validate:"omitempty,max=40"`
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
}

type createIntentReq struct {
	ProductID int64     `json:"product_id" validate:"required,gt=0"`
	VariantID *int64    `json:"variant_id,omitempty" validate:"omitempty,gt=0"`
	Quantity  int       `json:"quantity" validate:"lte=2147483647"` // < 1 means one
	Buyer     *buyerReq `json:"buyer,omitempty"`
}

type createIntentResp struct {
	OrderID     int64  `json:"order_id"`
	PublicToken string `json:"public_token"`
	Idempotent  bool   `json:"idempotent"`
}

type attachProofReq struct {
	MediaID string `json:"media_id" validate:"required,max=512"`
}

type updateBuyerReq struct {
	Name  string  `json:"name" validate:"required,max=120"`
	Phone string  `json:"phone" validate:"required,max=40"`
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
}

type decisionReq struct {
	Decision string `json:"decision" validate:"required"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/stores/{storeID}/intents", h.createIntent)
	r.Get("/stores/{storeID}/queue", h.listQueue)
	r.Get("/stores/{storeID}/metrics", h.metrics)
	r.Get("/orders/{token}", h.getOrder)
	r.Post("/orders/{token}/proof", h.attachProof)
	r.Post("/orders/{token}/request", h.enroll)
	r.Put("/orders/{token}/buyer", h.updateBuyer)
	r.Post("/seller/orders/{id}/decision", h.decide)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Anything unclassified is
// logged and answered with a generic body.
func (h *OrdersHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "msg": err.Error()})
	case errors.Is(err, orders.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_input", "msg": err.Error()})
	case errors.Is(err, orders.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict", "msg": err.Error()})
	default:
		h.logger().Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
	}
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx := orders.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
	return context.WithTimeout(ctx, timeout)
}

func (h *OrdersHandler) createIntent(w http.ResponseWriter, r *http.Request) {
	storeID, ok := pathID(w, r, "storeID")
	if !ok {
		return
	}
	var req createIntentReq
	if !bindAndValidate(w, r, &req, h.Validate) {
		return
	}

	ctx, cancel := h.ctx(r)
	defer cancel()

	// Idempotency via Redis: the first request claims the key, repeats get
	// its result. A Redis outage disables the check instead of failing.
	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey != "" && h.Redis != nil {
		idemKey = strconv.FormatInt(storeID, 10) + ":" + idemKey
		prev, claimed, err := redisx.ClaimIntent(ctx, h.Redis, idemKey)
		switch {
		case errors.Is(err, redisx.ErrIntentInFlight):
			writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict", "msg": "a request with this Idempotency-Key is still in progress"})
			return
		case err != nil:
			h.logger().Warn("idempotency claim", zap.Error(err))
			idemKey = ""
		case !claimed:
			writeJSON(w, http.StatusOK, createIntentResp{OrderID: prev.OrderID, PublicToken: prev.PublicToken, Idempotent: true})
			return
		}
	} else {
		idemKey = ""
	}

	in := orders.IntentInput{
		StoreID:   storeID,
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Quantity:  req.Quantity,
	}
	if req.Buyer != nil {
		in.Buyer = &orders.Buyer{Name: req.Buyer.Name, Phone: req.Buyer.Phone, Email: req.Buyer.Email}
	}
	res, err := h.Service.CreateIntent(ctx, in)
	if err != nil {
		if idemKey != "" {
			if rerr := redisx.ReleaseIntent(ctx, h.Redis, idemKey); rerr != nil {
				h.logger().Warn("idempotency release", zap.Error(rerr))
			}
		}
		h.writeError(w, r, err)
		return
	}

	if idemKey != "" {
		if err := redisx.RememberIntent(ctx, h.Redis, idemKey, res); err != nil {
			h.logger().Warn("idempotency store", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, createIntentResp{OrderID: res.OrderID, PublicToken: res.PublicToken})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	v, err := h.Service.GetPublicOrder(ctx, chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) attachProof(w http.ResponseWriter, r *http.Request) {
	var req attachProofReq
	if !bindAndValidate(w, r, &req, h.Validate) {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	res, err := h.Service.AttachProof(ctx, chi.URLParam(r, "token"), req.MediaID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) enroll(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.ctx(r)
	defer cancel()

	res, err := h.Service.Enroll(ctx, chi.URLParam(r, "token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) updateBuyer(w http.ResponseWriter, r *http.Request) {
	var req updateBuyerReq
	if !bindAndValidate(w, r, &req, h.Validate) {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	v, err := h.Service.UpdateBuyer(ctx, chi.URLParam(r, "token"), orders.Buyer{Name: req.Name, Phone: req.Phone, Email: req.Email})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) listQueue(w http.ResponseWriter, r *http.Request) {
	storeID, ok := pathID(w, r, "storeID")
	if !ok {
		return
	}
	statuses, err := orders.ParseStatuses(r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	list, err := h.Service.ListQueue(ctx, storeID, statuses)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"store_id": storeID, "orders": list})
}

func (h *OrdersHandler) decide(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req decisionReq
	if !bindAndValidate(w, r, &req, h.Validate) {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	res, err := h.Service.Decide(ctx, orderID, orders.Decision(req.Decision))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) metrics(w http.ResponseWriter, r *http.Request) {
	storeID, ok := pathID(w, r, "storeID")
	if !ok {
		return
	}
	rng, err := orders.ParseRange(r.URL.Query().Get("range"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	m, err := h.Service.Metrics(ctx, storeID, rng)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_input", "msg": "invalid " + name})
		return 0, false
	}
	return id, true
}

func (h *OrdersHandler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}
