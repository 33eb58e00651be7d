package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MomoConfig struct {
	PartnerCode string
	AccessKey   string
	SecretKey   string
	Endpoint    string
	RedirectURL string
	IPNURL      string
	MaxAge      time.Duration
}

type Momo struct {
	cfg    MomoConfig
	client *http.Client
}

func NewMomo(cfg MomoConfig, client *http.Client) *Momo {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	return &Momo{cfg: cfg, client: client}
}

func (g *Momo) Provider() domain.Provider { return domain.ProviderMomo }

type momoCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IpnURL      string `json:"ipnUrl"`
	RequestType string `json:"requestType"`
	ExtraData   string `json:"extraData"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type momoCreateResponse struct {
	PartnerCode string `json:"partnerCode"`
	OrderID     string `json:"orderId"`
	RequestID   string `json:"requestId"`
	ResultCode  int    `json:"resultCode"`
	Message     string `json:"message"`
	PayURL      string `json:"payUrl"`
}

func (g *Momo) Initiate(ctx context.Context, req InitiateRequest) (*Initiation, error) {
	o := req.Order
	redirect := req.ReturnURL
	if redirect == "" {
		redirect = g.cfg.RedirectURL
	}

	body := momoCreateRequest{
		PartnerCode: g.cfg.PartnerCode,
		RequestID:   uuid.NewString(),
		Amount:      minorUnits(o.Total, 1),
		OrderID:     o.OrderRef(),
		OrderInfo:   "Thanh toan don hang " + o.OrderRef(),
		RedirectURL: redirect,
		IpnURL:      g.cfg.IPNURL,
		RequestType: "captureWallet",
		Lang:        "vi",
	}
	body.Signature = hmacSHA256Hex(g.cfg.SecretKey, canonical(map[string]string{
		"accessKey":   g.cfg.AccessKey,
		"amount":      strconv.FormatInt(body.Amount, 10),
		"extraData":   body.ExtraData,
		"ipnUrl":      body.IpnURL,
		"orderId":     body.OrderID,
		"orderInfo":   body.OrderInfo,
		"partnerCode": body.PartnerCode,
		"redirectUrl": body.RedirectURL,
		"requestId":   body.RequestID,
		"requestType": body.RequestType,
	}, false))

	var out momoCreateResponse
	if err := postJSON(ctx, g.client, g.cfg.Endpoint+"/v2/gateway/api/create", body, &out); err != nil {
		return nil, &domain.ExternalGatewayError{Gateway: "momo", Err: err}
	}
	if out.ResultCode != 0 || out.PayURL == "" {
		return nil, &domain.ExternalGatewayError{Gateway: "momo", Err: fmt.Errorf("resultCode %d: %s", out.ResultCode, out.Message)}
	}
	return &Initiation{RedirectURL: out.PayURL, ProviderRef: body.RequestID}, nil
}

// MomoIPN is the server-to-server notification MoMo posts after payment.
type MomoIPN struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int    `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

func (n *MomoIPN) Result() Result {
	orderID, _ := uuid.Parse(n.OrderID)
	return Result{
		Provider:      domain.ProviderMomo,
		WebhookID:     domain.WebhookID(domain.ProviderMomo, n.RequestID),
		OrderID:       orderID,
		ProviderTxnID: strconv.FormatInt(n.TransID, 10),
		Amount:        decimal.NewFromInt(n.Amount),
		Success:       n.ResultCode == 0,
		Message:       n.Message,
		OccurredAt:    time.UnixMilli(n.ResponseTime).UTC(),
	}
}

func (g *Momo) signIPN(n *MomoIPN) string {
	return hmacSHA256Hex(g.cfg.SecretKey, canonical(map[string]string{
		"accessKey":    g.cfg.AccessKey,
		"amount":       strconv.FormatInt(n.Amount, 10),
		"extraData":    n.ExtraData,
		"message":      n.Message,
		"orderId":      n.OrderID,
		"orderInfo":    n.OrderInfo,
		"orderType":    n.OrderType,
		"partnerCode":  n.PartnerCode,
		"payType":      n.PayType,
		"requestId":    n.RequestID,
		"responseTime": strconv.FormatInt(n.ResponseTime, 10),
		"resultCode":   strconv.Itoa(n.ResultCode),
		"transId":      strconv.FormatInt(n.TransID, 10),
	}, false))
}

// Sign fills n.Signature.
func (g *Momo) Sign(n *MomoIPN) {
	n.Signature = g.signIPN(n)
}

func (g *Momo) ParseNotification(raw Raw, now time.Time) (Notification, error) {
	var n MomoIPN
	if err := json.Unmarshal(raw.Body, &n); err != nil {
		return nil, domain.NewValidationError("body", err.Error())
	}
	if n.Signature == "" || !signatureEqual(g.signIPN(&n), n.Signature) {
		return nil, domain.ErrSignatureMismatch
	}
	if n.PartnerCode != g.cfg.PartnerCode {
		return nil, domain.NewValidationError("partnerCode", "unknown partner")
	}
	if !fresh(time.UnixMilli(n.ResponseTime), now, g.cfg.MaxAge) {
		return nil, domain.ErrStaleWebhook
	}
	return &n, nil
}

func (g *Momo) Respond(o Outcome) Response {
	code, msg := 99, "Unknown error"
	switch o {
	case OutcomeAccepted:
		code, msg = 0, "Success"
	case OutcomeDuplicate, OutcomeIgnored:
		code, msg = 0, "Already processed"
	case OutcomeChecksumFailed:
		code, msg = 97, "Invalid signature"
	case OutcomeExpired:
		code, msg = 98, "Request expired"
	case OutcomeOrderNotFound:
		code, msg = 42, "Order not found"
	case OutcomeInvalidAmount:
		code, msg = 4, "Invalid amount"
	case OutcomeInvalidRequest:
		code, msg = 20, "Bad format request"
	}
	return Response{
		Code:    strconv.Itoa(code),
		Message: msg,
		Body:    map[string]any{"partnerCode": g.cfg.PartnerCode, "resultCode": code, "message": msg},
	}
}

func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
