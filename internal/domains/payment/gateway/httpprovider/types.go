package httpprovider

import "github.com/shopspring/decimal"

// Wire shapes shared by the JSON providers.

const (
	statusApproved = "approved"
	statusPending  = "pending"
	statusCaptured = "captured"
	statusDeclined = "declined"
	statusSuccess  = "success"
	statusFailed   = "failed"
)

type chargeRequest struct {
	Reference  string            `json:"reference"`
	MerchantID string            `json:"merchant_id"`
	OrderID    string            `json:"order_id"`
	Amount     decimal.Decimal   `json:"amount"`
	Currency   string            `json:"currency"`
	Method     string            `json:"method"`
	CardToken  string            `json:"card_token,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type chargeResponse struct {
	Status        string            `json:"status"`
	TransactionID string            `json:"transaction_id"`
	Reason        string            `json:"reason"`
	Metadata      map[string]string `json:"metadata"`
}

type refundRequest struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Reason        string          `json:"reason,omitempty"`
}

type refundResponse struct {
	Status   string `json:"status"`
	RefundID string `json:"refund_id"`
	Reason   string `json:"reason"`
}

type callbackBody struct {
	EventID          string `json:"event_id"`
	PaymentReference string `json:"payment_reference"`
	TransactionID    string `json:"transaction_id"`
	Status           string `json:"status"`
	Reason           string `json:"reason"`
}

type threeDSInitiateRequest struct {
	Reference       string          `json:"reference"`
	TransactionID   string          `json:"transaction_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	CardToken       string          `json:"card_token"`
	NotificationURL string          `json:"notification_url"`
	MD              string          `json:"md"`
}

type threeDSInitiateResponse struct {
	ACSURL         string `json:"acs_url"`
	CReq           string `json:"creq"`
	MessageVersion string `json:"message_version"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
