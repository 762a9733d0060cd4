package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := New(KindNotFound, "teller.ListAccounts", "enrollment gone")
	wrapped := fmt.Errorf("sync failed: %w", base)

	assert.Equal(t, KindNotFound, KindOf(base))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestError_Message(t *testing.T) {
	err := Wrap(KindServiceUnavailable, "teller.GetBalance", errors.New("timeout"))
	assert.Equal(t, "teller.GetBalance: SERVICE_UNAVAILABLE: timeout", err.Error())
	assert.ErrorIs(t, err, err.Err)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindServiceUnavailable, true},
		{KindRateLimited, true},
		{KindUnauthorized, false},
		{KindMalformedResponse, false},
		{KindNotFound, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(New(tt.kind, "op", "")))
		})
	}
}

func TestIsCredentialFailure(t *testing.T) {
	assert.True(t, IsCredentialFailure(New(KindUnauthorized, "", "")))
	assert.True(t, IsCredentialFailure(fmt.Errorf("x: %w", New(KindForbidden, "", ""))))
	assert.False(t, IsCredentialFailure(New(KindNotFound, "", "")))
	assert.False(t, IsCredentialFailure(nil))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(KindUnauthorized))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindBadRequest))
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(KindRateLimited))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindInternal))
}
