package mercadopago

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Payment is a gateway-side payment (PIX or card). For card flows it is a
// side effect of the cardholder completing the charge on the terminal; for
// PIX it is the artifact this system creates (it carries the QR payload).
type Payment struct {
	ID                 int64               `json:"id"`
	Status             string              `json:"status"` // pending | approved | authorized | rejected | cancelled
	TransactionAmount  float64             `json:"transaction_amount"`
	ExternalReference  string              `json:"external_reference"`
	Description        string              `json:"description"`
	DateCreated        time.Time           `json:"date_created"`
	PointOfInteraction *PointOfInteraction `json:"point_of_interaction,omitempty"`
}

// PointOfInteraction carries the PIX transaction data.
type PointOfInteraction struct {
	TransactionData struct {
		QRCode       string `json:"qr_code"`        // copia-e-cola string
		QRCodeBase64 string `json:"qr_code_base64"` // QR image, base64 PNG
		TicketURL    string `json:"ticket_url"`
	} `json:"transaction_data"`
}

// Approved reports whether the payment settled (approved or authorized).
func (p *Payment) Approved() bool {
	return p.Status == "approved" || p.Status == "authorized"
}

// PixParams holds parameters for creating a PIX payment.
type PixParams struct {
	Amount      float64 // BRL, major units
	Description string
	Reference   string // internal order id
	Email       string
	PayerName   string
}

// CreatePixPayment creates a PIX payment and returns it with QR data. The
// idempotency key is derived from (reference, creation timestamp) so a retry
// of the same request cannot mint a second PIX artifact.
func (c *Client) CreatePixPayment(ctx context.Context, params PixParams) (*Payment, error) {
	email := params.Email
	if email == "" {
		email = "cliente@quiosque.local"
	}
	body := map[string]interface{}{
		"transaction_amount": params.Amount,
		"description":        params.Description,
		"payment_method_id":  "pix",
		"external_reference": params.Reference,
		"payer": map[string]interface{}{
			"email":      email,
			"first_name": params.PayerName,
		},
	}

	createdAt := time.Now().UTC().Format(time.RFC3339)
	idempotencyKey := uuid.NewSHA1(uuid.NameSpaceOID, []byte(params.Reference+"|"+createdAt)).String()

	var payment Payment
	err := c.doRequest(ctx, http.MethodPost, "/v1/payments", body,
		map[string]string{"X-Idempotency-Key": idempotencyKey}, &payment)
	if err != nil {
		return nil, fmt.Errorf("create pix payment: %w", err)
	}
	if payment.ID == 0 {
		return nil, fmt.Errorf("create pix payment: no payment id in response")
	}
	return &payment, nil
}

// GetPayment fetches a payment by id.
func (c *Client) GetPayment(ctx context.Context, paymentID int64) (*Payment, error) {
	var payment Payment
	path := "/v1/payments/" + strconv.FormatInt(paymentID, 10)
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &payment); err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &payment, nil
}

// SearchFilter narrows a payment search. Reference takes precedence; with an
// empty Reference the Begin/End creation-time window applies. Results come
// back most recent first.
type SearchFilter struct {
	Reference string
	Begin     time.Time
	End       time.Time
	Limit     int
}

// SearchPayments queries the gateway's payment search, used for
// reconciliation when the terminal did not propagate the order reference.
func (c *Client) SearchPayments(ctx context.Context, filter SearchFilter) ([]Payment, error) {
	q := url.Values{}
	q.Set("sort", "date_created")
	q.Set("criteria", "desc")
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	q.Set("limit", strconv.Itoa(limit))
	if filter.Reference != "" {
		q.Set("external_reference", filter.Reference)
	} else if !filter.Begin.IsZero() {
		q.Set("range", "date_created")
		q.Set("begin_date", filter.Begin.UTC().Format(time.RFC3339))
		q.Set("end_date", filter.End.UTC().Format(time.RFC3339))
	}

	var resp struct {
		Results []Payment `json:"results"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/v1/payments/search?"+q.Encode(), nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("search payments: %w", err)
	}
	return resp.Results, nil
}
