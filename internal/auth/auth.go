package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/RaikyD/orders-checkout/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

type Capability string

const (
	CapCheckout       Capability = "orders:checkout"
	CapReadOwnOrders  Capability = "orders:read_own"
	CapCancelOwnOrder Capability = "orders:cancel_own"
	CapReadAnyOrder   Capability = "orders:read_any"
	CapManageOrders   Capability = "orders:manage"
)

var roleCaps = map[Role][]Capability{
	RoleCustomer: {CapCheckout, CapReadOwnOrders, CapCancelOwnOrder},
	RoleAdmin:    {CapCheckout, CapReadOwnOrders, CapCancelOwnOrder, CapReadAnyOrder, CapManageOrders},
}

type Principal struct {
	Subject  string
	Role     Role
	TenantID string
	Perms    []string
}

// Can is the single authorization check: role capabilities plus explicit perms.
func Can(p *Principal, c Capability) bool {
	if p == nil {
		return false
	}
	for _, have := range roleCaps[p.Role] {
		if have == c {
			return true
		}
	}
	for _, perm := range p.Perms {
		if perm == string(c) {
			return true
		}
	}
	return false
}

// Actor maps the principal to the state machine actor.
func (p *Principal) Actor() domain.Actor {
	if p != nil && p.Role == RoleAdmin {
		return domain.ActorAdmin
	}
	return domain.ActorCustomer
}

type claims struct {
	Role   Role     `json:"role"`
	Tenant string   `json:"tenant"`
	Perms  []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Parse(raw string) (*Principal, error) {
	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithLeeway(30*time.Second))
	if err != nil {
		return nil, err
	}
	if !token.Valid || c.Subject == "" {
		return nil, errors.New("invalid token")
	}
	role := c.Role
	if role == "" {
		role = RoleCustomer
	}
	return &Principal{Subject: c.Subject, Role: role, TenantID: c.Tenant, Perms: c.Perms}, nil
}

// Issue signs a token for p; used by tooling and tests.
func (a *Authenticator) Issue(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Role:   p.Role,
		Tenant: p.TenantID,
		Perms:  p.Perms,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey{}, p)
	if p.TenantID != "" {
		ctx = domain.WithTenant(ctx, p.TenantID)
	}
	return ctx
}

func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// Middleware requires a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			deny(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		p, err := a.Parse(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			deny(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func Require(c Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := FromContext(r.Context())
			if !Can(p, c) {
				deny(w, http.StatusForbidden, "missing capability "+string(c))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
