package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"quiosque/api/internal/reconcile"
	"quiosque/api/internal/repository"
)

// ipnEvent is the Mercado Pago notification payload.
type ipnEvent struct {
	ID     json.Number `json:"id"`
	Type   string      `json:"type"`
	Action string      `json:"action"`
	Data   struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// HandleNotification handles POST /api/notifications/payment-events
// Gateway contract: anything but a 200 triggers sender-side retries with
// backoff, so the response is written before any processing happens.
// Processing runs asynchronously: verify the payment with the gateway, feed
// the confirmed-payment registry and settle the order.
func (h *Handler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 65536))
	if err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	var event ipnEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("webhook: unparseable notification: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	storeID := h.storeID(r)
	w.WriteHeader(http.StatusOK)

	go h.processNotification(storeID, event)
}

func (h *Handler) processNotification(storeID string, event ipnEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if event.Type != "payment" || event.Data.ID == "" {
		log.Printf("webhook: ignoring notification (type: %s, action: %s)", event.Type, event.Action)
		return
	}

	// Dedup: the gateway retries aggressively.
	eventID := fmt.Sprintf("%s:%s:%s", event.Type, event.Action, event.Data.ID)
	if event.ID != "" {
		eventID = event.ID.String()
	}
	if repository.WebhookEventExists(h.db, eventID) {
		return
	}
	if err := repository.InsertWebhookEvent(h.db, eventID, event.Type); err != nil {
		log.Printf("webhook: log event %s: %v", eventID, err)
	}

	paymentID, err := event.Data.ID.Int64()
	if err != nil {
		log.Printf("webhook: non-numeric payment id %q", event.Data.ID)
		return
	}

	creds, ok := h.cfg.Stores[storeID]
	if !ok || creds.AccessToken == "" {
		log.Printf("webhook: store %s not configured, dropping payment %d", storeID, paymentID)
		return
	}

	// The notification only names the payment; its status must come from
	// the gateway, never from the webhook body.
	gw := h.newGateway(creds)
	payment, err := gw.GetPayment(ctx, paymentID)
	if err != nil {
		log.Printf("webhook: get payment %d: %v", paymentID, err)
		return
	}
	if !payment.Approved() {
		log.Printf("webhook: payment %d status %s, nothing to do", payment.ID, payment.Status)
		return
	}

	// Cache the confirmation so the next poll resolves without a gateway
	// round trip. Reference-based when the gateway kept the reference,
	// amount-based otherwise (the terminal flow often drops it).
	key := reconcile.AmountKey(payment.TransactionAmount)
	if payment.ExternalReference != "" {
		key = reconcile.RefKey(payment.ExternalReference)
	}
	if err := h.registry.RecordConfirmed(ctx, key, payment.ID, payment.TransactionAmount, payment.Status); err != nil {
		log.Printf("webhook: record confirmed payment %d: %v", payment.ID, err)
	}

	// When the reference survived it is our order id: settle directly,
	// which also decrements stock exactly once.
	if payment.ExternalReference != "" {
		h.settleOrder(payment.ExternalReference, fmt.Sprintf("%d", payment.ID))
	}

	if err := repository.MarkWebhookEventProcessed(h.db, eventID); err != nil {
		log.Printf("webhook: mark event %s processed: %v", eventID, err)
	}

	log.Printf("webhook: payment %d confirmed (amount: %.2f, ref: %q)", payment.ID, payment.TransactionAmount, payment.ExternalReference)
}
