// Package shipping talks to the delivery carrier: fee quotes, shipment
// cancellation and the status callbacks the carrier posts back.
package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	CarrierName = "ghn"

	defaultItemWeightGrams = 500
)

type Config struct {
	BaseURL string
	Token   string
	ShopID  string
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type feeRequest struct {
	ToProvinceName string `json:"to_province_name"`
	ToDistrictName string `json:"to_district_name"`
	ToWardName     string `json:"to_ward_name"`
	Weight         int    `json:"weight"`
	InsuranceValue int64  `json:"insurance_value"`
}

type feeData struct {
	Total int64 `json:"total"`
}

// Quote asks the carrier for the delivery fee of the given items to addr.
func (c *Client) Quote(ctx context.Context, addr domain.Address, items []domain.Item) (decimal.Decimal, error) {
	req := feeRequest{
		ToProvinceName: addr.Province,
		ToDistrictName: addr.District,
		ToWardName:     addr.Ward,
	}
	insurance := decimal.Zero
	for _, it := range items {
		req.Weight += it.Quantity * defaultItemWeightGrams
		insurance = insurance.Add(it.Subtotal)
	}
	req.InsuranceValue = insurance.IntPart()

	var data feeData
	if err := c.call(ctx, "/shiip/public-api/v2/shipping-order/fee", req, &data); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(data.Total), nil
}

// Cancel cancels a shipment by tracking code.
func (c *Client) Cancel(ctx context.Context, trackingCode string) error {
	body := map[string][]string{"order_codes": {trackingCode}}
	return c.call(ctx, "/shiip/public-api/v2/switch-status/cancel", body, nil)
}

func (c *Client) call(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Token", c.cfg.Token)
	req.Header.Set("ShopId", c.cfg.ShopID)

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.ExternalGatewayError{Gateway: CarrierName, Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &domain.ExternalGatewayError{Gateway: CarrierName, Err: fmt.Errorf("status %d: %w", resp.StatusCode, err)}
	}
	if resp.StatusCode != http.StatusOK || env.Code != http.StatusOK {
		return &domain.ExternalGatewayError{Gateway: CarrierName, Err: fmt.Errorf("code %d: %s", env.Code, env.Message)}
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}
