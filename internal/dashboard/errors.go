package dashboard

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"nifty-paper-terminal/internal/credentials"
	"nifty-paper-terminal/internal/database"
	"nifty-paper-terminal/internal/fyers"
	"nifty-paper-terminal/internal/notify"
	"nifty-paper-terminal/internal/trader"
)

// errBadRequest marks a malformed or incomplete request body.
var errBadRequest = errors.New("invalid request")

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var apiErr *fyers.APIError
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, credentials.ErrNotFound),
		errors.Is(err, credentials.ErrMissingClientID),
		errors.Is(err, fyers.ErrNoAuthCode),
		errors.Is(err, fyers.ErrInvalidState),
		errors.Is(err, fyers.ErrLogin),
		errors.Is(err, notify.ErrDisabled):
		return http.StatusBadRequest
	case errors.Is(err, fyers.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, trader.ErrTradeNotFound),
		errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, trader.ErrNotInitialised):
		return http.StatusConflict
	case errors.Is(err, trader.ErrEntryRejected):
		return http.StatusUnprocessableEntity
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as {"error": ...} with the mapped status.
func fail(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}
