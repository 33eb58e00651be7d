// Package payment holds gateway adapters: building payment requests and
// turning signed gateway callbacks into a provider-neutral Result.
package payment

import (
	"context"
	"net/url"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Raw is a callback as received over HTTP.
type Raw struct {
	Query url.Values
	Body  []byte
}

// Result is what every provider notification maps to before reconciliation.
type Result struct {
	Provider      domain.Provider
	WebhookID     string
	OrderID       uuid.UUID
	ProviderTxnID string
	Amount        decimal.Decimal
	Success       bool
	Message       string
	OccurredAt    time.Time
}

type Notification interface {
	Result() Result
}

type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeDuplicate
	OutcomeIgnored
	OutcomeChecksumFailed
	OutcomeExpired
	OutcomeOrderNotFound
	OutcomeInvalidAmount
	OutcomeInvalidRequest
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeIgnored:
		return "ignored"
	case OutcomeChecksumFailed:
		return "checksum_failed"
	case OutcomeExpired:
		return "expired"
	case OutcomeOrderNotFound:
		return "order_not_found"
	case OutcomeInvalidAmount:
		return "invalid_amount"
	case OutcomeInvalidRequest:
		return "invalid_request"
	}
	return "error"
}

// Acknowledged reports whether the gateway should stop retrying.
func (o Outcome) Acknowledged() bool {
	return o == OutcomeAccepted || o == OutcomeDuplicate || o == OutcomeIgnored
}

// Response is the provider-specific answer to a callback.
type Response struct {
	Code    string
	Message string
	Body    any
}

type InitiateRequest struct {
	Order     *domain.Order
	ReturnURL string
	ClientIP  string
}

type Initiation struct {
	RedirectURL string
	ProviderRef string
}

// COD needs no gateway round-trip.
type COD struct{}

func (COD) Initiate(context.Context, InitiateRequest) (*Initiation, error) {
	return nil, nil
}

// minorUnits converts an amount to an integer count of the smallest currency unit.
func minorUnits(d decimal.Decimal, factor int64) int64 {
	return d.Mul(decimal.NewFromInt(factor)).Round(0).IntPart()
}

// clockSkew is how far ahead of our clock a gateway timestamp may be.
const clockSkew = time.Minute

// fresh reports whether a callback stamped at sent is within maxAge of now
// and not from the future beyond clockSkew.
func fresh(sent, now time.Time, maxAge time.Duration) bool {
	age := now.Sub(sent)
	return age <= maxAge && age >= -clockSkew
}
