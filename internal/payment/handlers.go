package payment

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-venue/internal/common"
	"github.com/noah-isme/backend-venue/internal/pricing"
)

// Handler exposes order creation, checkout verification and fee quotes over HTTP.
type Handler struct {
	Gateway   *Gateway
	Fees      pricing.FeeSchedule
	Venues    VenuePricer
	KeySecret string
	Logger    zerolog.Logger
}

type createOrderReq struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency" validate:"omitempty,len=3,alpha"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes"`
	VenueID  string            `json:"venueId"`
}

type verifyPaymentReq struct {
	OrderID   string `json:"razorpay_order_id" validate:"required"`
	PaymentID string `json:"razorpay_payment_id" validate:"required"`
	Signature string `json:"razorpay_signature" validate:"required"`
}

// CreateOrder answers POST /create-order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Gateway == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		common.JSONError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
		return
	}
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if fields := common.FieldErrors(req); fields != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid order request", fields)
		return
	}
	res, err := h.Gateway.CreateOrder(r.Context(), OrderRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
		VenueID:  req.VenueID,
	})
	if err != nil {
		common.WriteAppError(w, err)
		return
	}
	common.OK(w, http.StatusOK, map[string]any{
		"order":   res.RawProviderPayload,
		"orderId": res.ProviderOrderID,
	})
}

// VerifyPayment answers POST /verify-payment with whether the checkout signature is genuine.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid body", nil)
		return
	}
	if fields := common.FieldErrors(req); fields != nil {
		common.JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid verification request", fields)
		return
	}
	if !VerifyCheckoutSignature(req.OrderID, req.PaymentID, req.Signature, h.KeySecret) {
		h.Logger.Warn().Str("order_id", req.OrderID).Msg("checkout signature rejected")
		common.WriteAppError(w, AuthenticationError("payment signature verification failed"))
		return
	}
	common.OK(w, http.StatusOK, map[string]any{"verified": true, "orderId": req.OrderID, "paymentId": req.PaymentID})
}

// FeeQuote answers GET /fees/quote?venueAmount=N or ?venueId=ID.
func (h *Handler) FeeQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if venueID := strings.TrimSpace(q.Get("venueId")); venueID != "" && h.Venues != nil {
		breakdown, err := ExpectedBreakdown(r.Context(), h.Venues, h.Fees, venueID)
		if err != nil {
			common.WriteAppError(w, err)
			return
		}
		common.OK(w, http.StatusOK, map[string]any{"fees": breakdown})
		return
	}
	amount, err := strconv.ParseInt(strings.TrimSpace(q.Get("venueAmount")), 10, 64)
	if err != nil {
		common.WriteAppError(w, ValidationError("INVALID_AMOUNT", "venueAmount must be an integer in minor units"))
		return
	}
	breakdown, err := h.Fees.Breakdown(amount)
	if err != nil {
		common.WriteAppError(w, ValidationError("INVALID_AMOUNT", err.Error()))
		return
	}
	common.OK(w, http.StatusOK, map[string]any{"fees": breakdown})
}
