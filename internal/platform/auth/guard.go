package auth

import "github.com/labstack/echo/v4"

// GuardFunc builds role-gating middleware. Handlers take one of these so
// route registration stays declarative while the token service and resolver
// are wired once in main.
type GuardFunc func(roles ...Role) echo.MiddlewareFunc

func NewGuard(tokens *TokenService, resolver *Resolver) GuardFunc {
	return func(roles ...Role) echo.MiddlewareFunc {
		return Require(tokens, resolver, roles...)
	}
}
