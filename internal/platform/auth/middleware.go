package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// ResolveFunc loads the identity record for a verified subject of one role.
// Returning (nil, nil) means the account no longer exists.
type ResolveFunc func(ctx context.Context, subject string) (interface{}, error)

// Resolver maps each role to the lookup that materializes its account record.
type Resolver struct {
	lookups map[Role]ResolveFunc
}

func NewResolver() *Resolver {
	return &Resolver{lookups: make(map[Role]ResolveFunc)}
}

func (r *Resolver) Register(role Role, fn ResolveFunc) {
	r.lookups[role] = fn
}

// Require returns middleware that admits only the named roles. The access
// token is read from the Authorization header, falling back to the `token`
// query parameter so media URLs usable by <video> elements stay guardable.
//
// Failure ladder: no or bad token gives 401, a valid token with a role
// outside the allowed set gives 403, and a deleted account gives 404. On
// success the resolved record is attached to the request context under the
// role's context key, with the role itself under "role".
func Require(tokens *TokenService, resolver *Resolver, roles ...Role) echo.MiddlewareFunc {
	allowed := make(map[Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := extractToken(c)
			if raw == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
			}
			claims, err := tokens.ParseAccessToken(raw)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}
			role, err := ParseRole(claims.Role)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}
			if !allowed[role] {
				return echo.NewHTTPError(http.StatusForbidden, "insufficient permissions")
			}
			lookup, ok := resolver.lookups[role]
			if !ok {
				log.Error().Str("role", role.String()).Msg("no resolver registered for role")
				return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}
			record, err := lookup(c.Request().Context(), claims.Subject)
			if err != nil {
				log.Error().Err(err).Str("role", role.String()).Msg("resolve identity")
				return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
			}
			if record == nil {
				return echo.NewHTTPError(http.StatusNotFound, "account not found")
			}
			c.Set("role", role)
			c.Set("subject", claims.Subject)
			c.Set(role.ContextKey(), record)
			return next(c)
		}
	}
}

// extractToken prefers the Authorization header and falls back to the token
// query parameter.
func extractToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return c.QueryParam("token")
}

// RoleFromContext returns the authenticated role set by Require.
func RoleFromContext(c echo.Context) (Role, bool) {
	role, ok := c.Get("role").(Role)
	return role, ok
}

// SubjectFromContext returns the authenticated subject id set by Require.
func SubjectFromContext(c echo.Context) (string, bool) {
	subject, ok := c.Get("subject").(string)
	return subject, ok
}
