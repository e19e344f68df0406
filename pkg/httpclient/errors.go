package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

type downstreamError struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError consumes and closes the body of a non-2xx response and
// converts it to an error. Bodies in the shared envelope format keep their
// code; anything else becomes a plain error carrying the status.
func ParseResponseError(resp *http.Response, peer string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", peer, resp.StatusCode, err)
	}

	var env downstreamError
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		return apperrors.New(env.Error.Code, fmt.Sprintf("%s: %s", peer, env.Error.Message), resp.StatusCode, statusSentinel(resp.StatusCode))
	}
	return fmt.Errorf("%s returned status %d: %s", peer, resp.StatusCode, string(body))
}

func statusSentinel(status int) error {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return apperrors.ErrInvalidInput
	case http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case http.StatusForbidden:
		return apperrors.ErrForbidden
	case http.StatusNotFound:
		return apperrors.ErrNotFound
	case http.StatusTooManyRequests:
		return apperrors.ErrTooManyRequests
	case http.StatusServiceUnavailable:
		return apperrors.ErrServiceUnavail
	default:
		return nil
	}
}
