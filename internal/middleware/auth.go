package middleware

import (
	"net/http"

	"weddingpay/internal/models"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

// contextKey is where echo-jwt stores the parsed token.
const contextKey = "user"

// JWTAuth validates HS256 bearer tokens and exposes the subject as "userID".
func JWTAuth(secret string) echo.MiddlewareFunc {
	verify := echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: jwt.SigningMethodHS256.Alg(),
		ContextKey:    contextKey,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(jwt.RegisteredClaims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: models.ErrInvalidToken.Error()})
		},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return verify(setUserID(next))
	}
}

func setUserID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := c.Get(contextKey).(*jwt.Token)
		if !ok {
			return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: models.ErrInvalidToken.Error()})
		}
		claims, ok := token.Claims.(*jwt.RegisteredClaims)
		if !ok || claims.Subject == "" {
			return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: models.ErrInvalidToken.Error()})
		}
		c.Set("userID", claims.Subject)
		return next(c)
	}
}

// IssueToken signs a token for userID. Used by the token tool and tests.
func IssueToken(secret, userID string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = userID
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
