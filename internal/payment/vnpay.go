package payment

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const vnpDateLayout = "20060102150405"

// VNPay timestamps are in Vietnam time regardless of server zone.
var vnLocation = time.FixedZone("GMT+7", 7*3600)

type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	// ExpireAfter is how long the payment page stays valid.
	ExpireAfter time.Duration
}

type VNPay struct {
	cfg VNPayConfig
	now func() time.Time
}

func NewVNPay(cfg VNPayConfig) *VNPay {
	if cfg.ExpireAfter == 0 {
		cfg.ExpireAfter = 15 * time.Minute
	}
	return &VNPay{cfg: cfg, now: time.Now}
}

func (g *VNPay) Provider() domain.Provider { return domain.ProviderVNPay }

func (g *VNPay) Initiate(_ context.Context, req InitiateRequest) (*Initiation, error) {
	o := req.Order
	returnURL := req.ReturnURL
	if returnURL == "" {
		returnURL = g.cfg.ReturnURL
	}
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}
	now := g.now().In(vnLocation)

	params := url.Values{}
	params.Set("vnp_Version", "2.1.0")
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", g.cfg.TmnCode)
	params.Set("vnp_Amount", strconv.FormatInt(minorUnits(o.Total, 100), 10))
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", o.OrderRef())
	params.Set("vnp_OrderInfo", "Thanh toan don hang "+o.OrderRef())
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", "vn")
	params.Set("vnp_ReturnUrl", returnURL)
	params.Set("vnp_IpAddr", ip)
	params.Set("vnp_CreateDate", now.Format(vnpDateLayout))
	params.Set("vnp_ExpireDate", now.Add(g.cfg.ExpireAfter).Format(vnpDateLayout))

	query := canonical(flatten(params), true)
	sig := hmacSHA512Hex(g.cfg.HashSecret, query)

	return &Initiation{
		RedirectURL: g.cfg.PayURL + "?" + query + "&vnp_SecureHash=" + sig,
		ProviderRef: o.OrderRef(),
	}, nil
}

// Sign returns vnp_SecureHash for the vnp_* parameters in q.
func (g *VNPay) Sign(q url.Values) string {
	return hmacSHA512Hex(g.cfg.HashSecret, canonical(vnpSigned(q), true))
}

// VNPayIPN is the callback VNPay sends to the IPN and return URLs.
type VNPayIPN struct {
	TmnCode           string
	TxnRef            string
	Amount            int64
	BankCode          string
	BankTranNo        string
	CardType          string
	OrderInfo         string
	PayDate           string
	ResponseCode      string
	TransactionNo     string
	TransactionStatus string
}

func (n *VNPayIPN) Result() Result {
	orderID, _ := uuid.Parse(n.TxnRef)
	paidAt, err := time.ParseInLocation(vnpDateLayout, n.PayDate, vnLocation)
	if err != nil {
		paidAt = time.Time{}
	}
	return Result{
		Provider:      domain.ProviderVNPay,
		WebhookID:     domain.WebhookID(domain.ProviderVNPay, n.TmnCode+":"+n.TxnRef+":"+n.TransactionNo),
		OrderID:       orderID,
		ProviderTxnID: n.TransactionNo,
		Amount:        decimal.New(n.Amount, -2),
		Success:       n.ResponseCode == "00" && n.TransactionStatus == "00",
		Message:       "vnpay response code " + n.ResponseCode,
		OccurredAt:    paidAt.UTC(),
	}
}

// ParseNotification verifies vnp_SecureHash. VNPay retries the IPN long after
// vnp_PayDate, so no freshness window is applied here.
func (g *VNPay) ParseNotification(raw Raw, _ time.Time) (Notification, error) {
	n, err := g.parse(raw.Query)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// VerifyReturn checks the browser redirect without touching any state.
func (g *VNPay) VerifyReturn(q url.Values) (*VNPayIPN, error) {
	return g.parse(q)
}

func (g *VNPay) parse(q url.Values) (*VNPayIPN, error) {
	got := q.Get("vnp_SecureHash")
	if got == "" || !signatureEqual(g.Sign(q), got) {
		return nil, domain.ErrSignatureMismatch
	}

	n := &VNPayIPN{
		TmnCode:           q.Get("vnp_TmnCode"),
		TxnRef:            q.Get("vnp_TxnRef"),
		BankCode:          q.Get("vnp_BankCode"),
		BankTranNo:        q.Get("vnp_BankTranNo"),
		CardType:          q.Get("vnp_CardType"),
		OrderInfo:         q.Get("vnp_OrderInfo"),
		PayDate:           q.Get("vnp_PayDate"),
		ResponseCode:      q.Get("vnp_ResponseCode"),
		TransactionNo:     q.Get("vnp_TransactionNo"),
		TransactionStatus: q.Get("vnp_TransactionStatus"),
	}
	if n.TmnCode != g.cfg.TmnCode {
		return nil, domain.NewValidationError("vnp_TmnCode", "unknown merchant")
	}
	amount, err := strconv.ParseInt(q.Get("vnp_Amount"), 10, 64)
	if err != nil {
		return nil, domain.NewValidationError("vnp_Amount", fmt.Sprintf("bad amount: %v", err))
	}
	n.Amount = amount
	return n, nil
}

func (g *VNPay) Respond(o Outcome) Response {
	code, msg := "99", "Unknown error"
	switch o {
	case OutcomeAccepted:
		code, msg = "00", "Confirm Success"
	case OutcomeDuplicate, OutcomeIgnored:
		code, msg = "00", "Order already confirmed"
	case OutcomeChecksumFailed:
		code, msg = "97", "Invalid Checksum"
	case OutcomeOrderNotFound:
		code, msg = "01", "Order not found"
	case OutcomeInvalidAmount:
		code, msg = "04", "Invalid amount"
	}
	return Response{Code: code, Message: msg, Body: map[string]string{"RspCode": code, "Message": msg}}
}

func vnpSigned(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for k := range q {
		if !strings.HasPrefix(k, "vnp_") || k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		if v := q.Get(k); v != "" {
			out[k] = v
		}
	}
	return out
}

func flatten(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for k := range q {
		out[k] = q.Get(k)
	}
	return out
}
