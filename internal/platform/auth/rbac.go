package auth

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	RoleAdmin        = "admin"
	RoleDoctor       = "doctor"
	RoleReceptionist = "receptionist"
	RoleAccountant   = "accountant"
)

var clinicRoles = []string{RoleAdmin, RoleDoctor, RoleReceptionist, RoleAccountant}

// Caller is the authenticated user of a request.
type Caller struct {
	UserID string
	Roles  []string
}

// Has reports whether the caller holds role. Admins hold every role.
func (c Caller) Has(role string) bool {
	return slices.Contains(c.Roles, RoleAdmin) || slices.Contains(c.Roles, role)
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// UserIDFromContext returns the caller's id, or "" for anonymous contexts
// such as background work.
func UserIDFromContext(ctx context.Context) string {
	c, _ := CallerFrom(ctx)
	return c.UserID
}

// normalizeRoles keeps the clinic roles found in raw, lower-cased and
// deduplicated. Roles issued for other applications are ignored.
func normalizeRoles(raw []string) []string {
	var out []string
	for _, r := range raw {
		r = strings.ToLower(strings.TrimSpace(r))
		if slices.Contains(clinicRoles, r) && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}

// RequireRole passes callers holding any of roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			caller, _ := CallerFrom(c.Request().Context())
			for _, r := range roles {
				if caller.Has(r) {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
