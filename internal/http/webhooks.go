package http

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"RampEngine/internal/errs"
	"RampEngine/internal/models"
	"RampEngine/internal/payments"
	"RampEngine/internal/services"
	"RampEngine/internal/webhook"

	"go.uber.org/zap"
)

type depositWebhookRequest struct {
	WalletAddress   string `json:"walletAddress"`
	TransactionHash string `json:"transactionHash"`
	Amount          string `json:"amount"`
	Network         string `json:"network"`
}

type payoutWebhookRequest struct {
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
	FailureReason string `json:"failureReason"`
}

type webhookAck struct {
	Status      string             `json:"status"`
	OrderID     string             `json:"orderId"`
	OrderStatus models.OrderStatus `json:"orderStatus"`
}

func (h *Handler) DepositWebhook(w http.ResponseWriter, r *http.Request) {
	var req depositWebhookRequest
	if !h.readSigned(w, r, &req) {
		return
	}
	amount, err := payments.ParseAmount(req.Amount)
	if err != nil {
		writeErr(w, h.Logger, r, err)
		return
	}
	order, err := h.Orders.HandleDeposit(r.Context(), services.DepositConfirmation{
		WalletAddress: req.WalletAddress,
		TxHash:        req.TransactionHash,
		Amount:        amount,
		Network:       models.Network(strings.ToLower(strings.TrimSpace(req.Network))),
	})
	if err != nil {
		writeErr(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookAck{Status: "ok", OrderID: order.OrderID, OrderStatus: order.Status})
}

func (h *Handler) PayoutWebhook(w http.ResponseWriter, r *http.Request) {
	var req payoutWebhookRequest
	if !h.readSigned(w, r, &req) {
		return
	}
	order, err := h.Orders.HandlePayoutStatus(r.Context(), services.PayoutStatus{
		Reference:     req.Reference,
		Status:        req.Status,
		TransactionID: req.TransactionID,
		FailureReason: req.FailureReason,
	})
	if err != nil {
		writeErr(w, h.Logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, webhookAck{Status: "ok", OrderID: order.OrderID, OrderStatus: order.Status})
}

// readSigned verifies the signature over the raw body when an inbound
// secret is configured, then decodes it.
func (h *Handler) readSigned(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, errs.CodeValidation, "could not read body")
		return false
	}
	if len(h.InboundSecret) > 0 {
		if err := webhook.Verify(h.InboundSecret, body, r.Header.Get(webhook.SignatureHeader)); err != nil {
			h.Logger.Warn("inbound webhook rejected", zap.String("path", r.URL.Path), zap.Error(err))
			writeError(w, http.StatusUnauthorized, errs.CodeUnauthorized, "invalid webhook signature")
			return false
		}
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err := decodeJSON(w, r, v); err != nil {
		writeErr(w, h.Logger, r, err)
		return false
	}
	return true
}
