package presentation

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestWriteError(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		status     int
		kind       string
		retryAfter string
	}{
		{"timeout", fmt.Errorf("%w after 10s", domain.ErrCheckoutTimeout), http.StatusServiceUnavailable, "timeout", ""},
		{"conflict", domain.ErrConcurrencyConflict, http.StatusServiceUnavailable, "conflict", "1"},
		{"foreign sku", fmt.Errorf("sku %s: %w", uuid.New(), domain.ErrTenantMismatch), http.StatusForbidden, "tenant_mismatch", ""},
		{"foreign order", fmt.Errorf("order: %w: %w", domain.ErrNotFound, domain.ErrTenantMismatch), http.StatusNotFound, "not_found", ""},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "internal", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, tc.err)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.kind, decodeMap(t, rec)["kind"])
			assert.Equal(t, tc.retryAfter, rec.Header().Get("Retry-After"))
		})
	}
}
