package mercadopago

import (
	"context"
	"fmt"
	"net/http"
)

// IntentState is the terminal-side state of a payment intent.
type IntentState string

const (
	IntentOpen       IntentState = "OPEN"
	IntentOnTerminal IntentState = "ON_TERMINAL"
	IntentProcessing IntentState = "PROCESSING"
	IntentFinished   IntentState = "FINISHED"
	IntentProcessed  IntentState = "PROCESSED"
	IntentCanceled   IntentState = "CANCELED"
	IntentError      IntentState = "ERROR"
)

// Done reports whether the terminal will never act on this intent again.
// Intents in these states are safe to delete from the device queue.
func (s IntentState) Done() bool {
	return s == IntentFinished || s == IntentCanceled || s == IntentError
}

// Paid reports whether the intent state means the cardholder completed the
// charge.
func (s IntentState) Paid() bool {
	return s == IntentFinished || s == IntentProcessed
}

// PaymentIntent is a charge request registered on a Point terminal. Distinct
// from the resulting Payment, which the gateway creates as a side effect of
// the cardholder completing the transaction on the device.
type PaymentIntent struct {
	ID             string      `json:"id"`
	DeviceID       string      `json:"device_id"`
	State          IntentState `json:"state"`
	Amount         int64       `json:"amount"` // centavos
	AdditionalInfo struct {
		ExternalReference string `json:"external_reference"`
		PrintOnTerminal   bool   `json:"print_on_terminal"`
	} `json:"additional_info"`
	// Payment is set once the terminal reports the underlying payment.
	Payment *IntentPayment `json:"payment,omitempty"`
}

// IntentPayment links an intent to the payment it produced.
type IntentPayment struct {
	ID int64 `json:"id"`
}

// CreateIntent registers a charge of amount centavos on the given device.
// The order reference travels in additional_info, but the terminal does not
// reliably propagate it to the resulting payment — reconciliation cannot
// depend on it alone.
func (c *Client) CreateIntent(ctx context.Context, deviceID string, amount int64, reference string) (string, error) {
	body := map[string]interface{}{
		"amount": amount,
		"additional_info": map[string]interface{}{
			"external_reference": reference,
			"print_on_terminal":  true,
		},
	}
	var resp struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/point/integration-api/devices/%s/payment-intents", deviceID)
	if err := c.doRequest(ctx, http.MethodPost, path, body, nil, &resp); err != nil {
		return "", fmt.Errorf("create intent: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create intent: no id in response")
	}
	return resp.ID, nil
}

// GetIntent fetches an intent by id. Returns ErrNotFound if the terminal
// purged it.
func (c *Client) GetIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	var intent PaymentIntent
	path := "/point/integration-api/payment-intents/" + intentID
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &intent); err != nil {
		return nil, fmt.Errorf("get intent: %w", err)
	}
	return &intent, nil
}

// DeleteIntent removes an intent from the device queue. 404 is treated as
// success (already gone). 409 surfaces as ErrConflict: the intent is mid-
// charge and the caller must back off before retrying.
func (c *Client) DeleteIntent(ctx context.Context, deviceID, intentID string) error {
	path := fmt.Sprintf("/point/integration-api/devices/%s/payment-intents/%s", deviceID, intentID)
	err := c.doRequest(ctx, http.MethodDelete, path, nil, nil, nil)
	if err == nil || IsNotFound(err) {
		return nil
	}
	return fmt.Errorf("delete intent: %w", err)
}

// ListIntents returns every intent currently queued on the device. Used for
// bulk cleanup.
func (c *Client) ListIntents(ctx context.Context, deviceID string) ([]PaymentIntent, error) {
	var resp struct {
		Events []PaymentIntent `json:"events"`
	}
	path := fmt.Sprintf("/point/integration-api/devices/%s/payment-intents/events", deviceID)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("list intents: %w", err)
	}
	return resp.Events, nil
}
