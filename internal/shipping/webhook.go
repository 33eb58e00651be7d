package shipping

import (
	"crypto/subtle"
	"strings"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/google/uuid"
)

// CarrierWebhook is the status callback of the carrier. ClientOrderCode is our order id.
type CarrierWebhook struct {
	OrderCode       string `json:"OrderCode"`
	ClientOrderCode string `json:"ClientOrderCode"`
	Status          string `json:"Status"`
	Reason          string `json:"Reason"`
	Time            string `json:"Time"`
}

var statusMap = map[string]domain.Status{
	"picked":                   domain.StatusShipped,
	"storing":                  domain.StatusShipped,
	"transporting":             domain.StatusShipped,
	"sorting":                  domain.StatusShipped,
	"delivering":               domain.StatusShipped,
	"money_collect_delivering": domain.StatusShipped,
	"delivered":                domain.StatusDelivered,
	"return":                   domain.StatusReturned,
	"return_transporting":      domain.StatusReturned,
	"returning":                domain.StatusReturned,
	"returned":                 domain.StatusReturned,
	"cancel":                   domain.StatusCancelled,
}

// MapStatus returns false for carrier states with no order-level meaning
// (ready_to_pick, picking, delivery_fail and so on).
func MapStatus(carrierStatus string) (domain.Status, bool) {
	s, ok := statusMap[strings.ToLower(strings.TrimSpace(carrierStatus))]
	return s, ok
}

func (w CarrierWebhook) Target() (domain.Status, bool) {
	return MapStatus(w.Status)
}

func (w CarrierWebhook) OrderID() (uuid.UUID, bool) {
	id, err := uuid.Parse(w.ClientOrderCode)
	return id, err == nil
}

func (w CarrierWebhook) Validate() error {
	if w.OrderCode == "" && w.ClientOrderCode == "" {
		return domain.NewValidationError("OrderCode", "order code or client order code required")
	}
	if w.Status == "" {
		return domain.NewValidationError("Status", "required")
	}
	return nil
}

func VerifyToken(expected, got string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
