package httpclient

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

func response(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestParseResponseError_Envelope(t *testing.T) {
	err := ParseResponseError(response(http.StatusTooManyRequests, `{"error":{"code":"QUOTA","message":"daily quota reached"}}`), "mail-gateway")

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "QUOTA", appErr.Code)
	assert.Equal(t, "mail-gateway: daily quota reached", appErr.Message)
	assert.ErrorIs(t, err, apperrors.ErrTooManyRequests)
}

func TestParseResponseError_Unstructured(t *testing.T) {
	err := ParseResponseError(response(http.StatusBadGateway, "upstream down"), "mail-gateway")
	require.Error(t, err)
	assert.Equal(t, "mail-gateway returned status 502: upstream down", err.Error())
}

