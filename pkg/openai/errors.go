package openai

import (
	"errors"
	"net/http"
	"time"

	apperrors "clipfactory/pkg/errors"

	"github.com/sashabaranov/go-openai"
)

// DefaultRetryAfter is used for 429 responses; the API error does not
// expose the Retry-After header.
const DefaultRetryAfter = 20 * time.Second

// classify maps provider failures onto the retry taxonomy.
func classify(op string, err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusTooManyRequests:
		return apperrors.RateLimited(op+" rate limited", DefaultRetryAfter, err)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.Wrap(apperrors.CodeUnauthorized, op+" unauthorized", err)
	case status == http.StatusBadRequest:
		return apperrors.Wrap(apperrors.CodeInvalidParams, op+" rejected", err)
	default:
		return apperrors.Transient(op+" failed", err)
	}
}
