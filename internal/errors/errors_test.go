package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategory(t *testing.T) {
	assert.Equal(t, "", Category(nil))
	assert.Equal(t, "NotFound", Category(NotFound("session S1")))
	assert.Equal(t, "StorageCorrupt", Category(fmt.Errorf("decode: %w", ErrStorageCorrupt)))
	assert.Equal(t, "NetworkFailure", Category(Network("fetch template")))
	assert.Equal(t, "InvalidTransition", Category(InvalidTransition("terminated -> completed")))
	assert.Equal(t, "Unknown", Category(errors.New("boom")))
}

func TestWrapWithCategoryKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapWithCategory(cause, "save session", ErrStorage)

	assert.True(t, errors.Is(err, ErrStorage))
	assert.True(t, errors.Is(err, cause))
	assert.Nil(t, WrapWithCategory(nil, "noop", ErrStorage))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusOK, HTTPStatus(nil))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(NotFound("x")))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(InvalidInput("x")))
	assert.Equal(t, http.StatusConflict, HTTPStatus(InvalidTransition("x")))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(Network("x")))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("x")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Network("timeout")))
	assert.True(t, IsRetryable(Transient("503")))
	assert.False(t, IsRetryable(NotFound("template")))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(nil))
}
