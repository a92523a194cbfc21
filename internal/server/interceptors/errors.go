package interceptors

import (
	"errors"
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"account-lifecycle/internal/platform/apperr"
)

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	SignedOut         bool   `json:"signedOut"`
	RetryAfterSeconds *int   `json:"retryAfterSeconds,omitempty"`
}

var kindNames = map[error]string{
	apperr.ErrUnauthorized:       "Unauthorized",
	apperr.ErrForbidden:          "Forbidden",
	apperr.ErrInvalidCredential:  "InvalidCredential",
	apperr.ErrInvalidOTC:         "InvalidOTC",
	apperr.ErrNotFound:           "NotFound",
	apperr.ErrConflict:           "Conflict",
	apperr.ErrGone:               "Gone",
	apperr.ErrInvalidState:       "InvalidState",
	apperr.ErrInvariantViolation: "InvariantViolation",
	apperr.ErrRateLimited:        "RateLimited",
	apperr.ErrValidation:         "Validation",
}

var kindStatus = map[error]int{
	apperr.ErrUnauthorized:       fiber.StatusUnauthorized,
	apperr.ErrForbidden:          fiber.StatusForbidden,
	apperr.ErrInvalidCredential:  fiber.StatusUnauthorized,
	apperr.ErrInvalidOTC:         fiber.StatusUnauthorized,
	apperr.ErrNotFound:           fiber.StatusNotFound,
	apperr.ErrConflict:           fiber.StatusConflict,
	apperr.ErrGone:               fiber.StatusGone,
	apperr.ErrInvalidState:       fiber.StatusUnprocessableEntity,
	apperr.ErrInvariantViolation: fiber.StatusConflict,
	apperr.ErrRateLimited:        fiber.StatusTooManyRequests,
	apperr.ErrValidation:         fiber.StatusBadRequest,
}

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	if e, ok := apperr.As(err); ok {
		return kindStatus[e.Kind]
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return fiber.StatusInternalServerError
}

// NewErrorHandler returns the fiber ErrorHandler. Internal errors are logged and answered with a
// generic message; taxonomy errors carry their message to the client.
func NewErrorHandler(log zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := StatusFor(err)
		body := ErrorBody{Error: "Internal", Message: "internal error"}
		var fe *fiber.Error
		if e, ok := apperr.As(err); ok {
			body.Error = kindNames[e.Kind]
			body.Message = e.Message
			if body.Message == "" {
				body.Message = e.Kind.Error()
			}
			body.SignedOut = e.SignedOut
			if e.RetryAfter > 0 {
				secs := int(math.Ceil(e.RetryAfter.Seconds()))
				body.RetryAfterSeconds = &secs
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
			}
		} else if errors.As(err, &fe) {
			body.Error = "HTTP"
			body.Message = fe.Message
		} else {
			log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("http: internal error")
		}
		return c.Status(status).JSON(body)
	}
}
