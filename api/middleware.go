package api

import (
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/7D-Solutions/gaugecore/auth"
	"github.com/7D-Solutions/gaugecore/security"
)

const callerContextKey = "caller"

// JWTMiddleware validates bearer tokens and stores the rebuilt Caller in
// the request context.
func JWTMiddleware(jwt *security.JWTService) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		ContextKey:  callerContextKey,
		TokenLookup: "header:Authorization:Bearer ",
		ParseTokenFunc: func(c echo.Context, token string) (interface{}, error) {
			return jwt.CallerFromToken(token)
		},
	})
}

// callerFrom extracts the verified caller placed by the JWT middleware.
// Returns nil on unauthenticated routes, which every core gate rejects.
func callerFrom(c echo.Context) *auth.Caller {
	caller, _ := c.Get(callerContextKey).(*auth.Caller)
	return caller
}
