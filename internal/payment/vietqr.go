package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type VietQRConfig struct {
	BankBin     string
	AccountNo   string
	AccountName string
	Secret      string
	MaxAge      time.Duration
}

type VietQR struct {
	cfg VietQRConfig
}

func NewVietQR(cfg VietQRConfig) *VietQR {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	return &VietQR{cfg: cfg}
}

func (g *VietQR) Provider() domain.Provider { return domain.ProviderVietQR }

// Initiate returns a quick-link QR image; the transfer content carries the order ref.
func (g *VietQR) Initiate(_ context.Context, req InitiateRequest) (*Initiation, error) {
	o := req.Order
	q := url.Values{}
	q.Set("amount", strconv.FormatInt(minorUnits(o.Total, 1), 10))
	q.Set("addInfo", o.OrderRef())
	if g.cfg.AccountName != "" {
		q.Set("accountName", g.cfg.AccountName)
	}
	link := fmt.Sprintf("https://img.vietqr.io/image/%s-%s-compact2.png?%s", g.cfg.BankBin, g.cfg.AccountNo, q.Encode())
	return &Initiation{RedirectURL: link, ProviderRef: o.OrderRef()}, nil
}

// VietQRNotification is the bank-transfer callback of the VietQR service.
type VietQRNotification struct {
	TransactionID   string `json:"transactionId"`
	ReferenceNumber string `json:"referenceNumber"`
	TransactionTime int64  `json:"transactionTime"`
	Amount          int64  `json:"amount"`
	Content         string `json:"content"`
	BankAccount     string `json:"bankAccount"`
	OrderID         string `json:"orderId"`
	Status          string `json:"status"`
	Signature       string `json:"signature"`
}

func (n *VietQRNotification) Result() Result {
	orderID, _ := uuid.Parse(n.OrderID)
	return Result{
		Provider:      domain.ProviderVietQR,
		WebhookID:     domain.WebhookID(domain.ProviderVietQR, n.TransactionID),
		OrderID:       orderID,
		ProviderTxnID: n.ReferenceNumber,
		Amount:        decimal.NewFromInt(n.Amount),
		Success:       n.Status == "SUCCESS",
		Message:       "vietqr status " + n.Status,
		OccurredAt:    time.UnixMilli(n.TransactionTime).UTC(),
	}
}

func (g *VietQR) sign(n *VietQRNotification) string {
	return hmacSHA256Hex(g.cfg.Secret, canonical(map[string]string{
		"amount":          strconv.FormatInt(n.Amount, 10),
		"bankAccount":     n.BankAccount,
		"content":         n.Content,
		"orderId":         n.OrderID,
		"referenceNumber": n.ReferenceNumber,
		"status":          n.Status,
		"transactionId":   n.TransactionID,
		"transactionTime": strconv.FormatInt(n.TransactionTime, 10),
	}, false))
}

func (g *VietQR) Sign(n *VietQRNotification) {
	n.Signature = g.sign(n)
}

func (g *VietQR) ParseNotification(raw Raw, now time.Time) (Notification, error) {
	var n VietQRNotification
	if err := json.Unmarshal(raw.Body, &n); err != nil {
		return nil, domain.NewValidationError("body", err.Error())
	}
	if n.Signature == "" || !signatureEqual(g.sign(&n), n.Signature) {
		return nil, domain.ErrSignatureMismatch
	}
	if n.TransactionID == "" {
		return nil, domain.NewValidationError("transactionId", "required")
	}
	if !fresh(time.UnixMilli(n.TransactionTime), now, g.cfg.MaxAge) {
		return nil, domain.ErrStaleWebhook
	}
	return &n, nil
}

func (g *VietQR) Respond(o Outcome) Response {
	code, msg := "99", "Unknown error"
	switch o {
	case OutcomeAccepted:
		code, msg = "00", "Success"
	case OutcomeDuplicate, OutcomeIgnored:
		code, msg = "00", "Already processed"
	case OutcomeChecksumFailed:
		code, msg = "97", "Invalid signature"
	case OutcomeExpired:
		code, msg = "98", "Request expired"
	case OutcomeOrderNotFound:
		code, msg = "01", "Order not found"
	case OutcomeInvalidAmount:
		code, msg = "04", "Invalid amount"
	case OutcomeInvalidRequest:
		code, msg = "02", "Invalid request"
	}
	return Response{
		Code:    code,
		Message: msg,
		Body:    map[string]any{"error": !o.Acknowledged(), "errorReason": code, "toastMessage": msg},
	}
}
