package shipping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapStatus(t *testing.T) {
	cases := map[string]domain.Status{
		"picked":     domain.StatusShipped,
		"Delivering": domain.StatusShipped,
		"delivered":  domain.StatusDelivered,
		"returned":   domain.StatusReturned,
		"cancel":     domain.StatusCancelled,
	}
	for in, want := range cases {
		got, ok := MapStatus(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}

	_, ok := MapStatus("ready_to_pick")
	assert.False(t, ok)
}

func TestClient_Quote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("Token"))
		var req feeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 1500, req.Weight)
		assert.Equal(t, "Quận 1", req.ToDistrictName)
		_, _ = w.Write([]byte(`{"code":200,"message":"Success","data":{"total":36300}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Token: "tok", ShopID: "1"}, nil)
	fee, err := c.Quote(context.Background(),
		domain.Address{District: "Quận 1", Province: "Hồ Chí Minh"},
		[]domain.Item{{SKUID: uuid.New(), Quantity: 3, Subtotal: decimal.NewFromInt(300000)}})
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.NewFromInt(36300)))
}

func TestClient_CancelFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":400,"message":"order can not be cancelled"}`))
	}))
	defer srv.Close()

	err := NewClient(Config{BaseURL: srv.URL}, nil).Cancel(context.Background(), "GHN123")
	require.ErrorIs(t, err, domain.ErrExternalGateway)
}

func TestVerifyToken(t *testing.T) {
	assert.True(t, VerifyToken("abc", "abc"))
	assert.False(t, VerifyToken("abc", "abd"))
	assert.False(t, VerifyToken("", ""))
}
