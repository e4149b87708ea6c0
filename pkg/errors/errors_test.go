package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want ErrorType
	}{
		{0, ErrorTypeNetwork},
		{400, ErrorTypeBadRequest},
		{403, ErrorTypeClientError},
		{404, ErrorTypeNotFound},
		{429, ErrorTypeRateLimit},
		{500, ErrorTypeServerError},
		{503, ErrorTypeServerError},
		{302, ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, FromStatusCode(tt.code))
		})
	}
}

func TestRetryableAndFatal(t *testing.T) {
	assert.True(t, IsRetryable(ErrorTypeRateLimit))
	assert.True(t, IsRetryable(ErrorTypeServerError))
	assert.True(t, IsRetryable(ErrorTypeNetwork))
	assert.False(t, IsRetryable(ErrorTypeNotFound))
	assert.False(t, IsRetryable(ErrorTypeInvalid))
	assert.False(t, IsRetryable(ErrorTypeQuotaExceeded))

	assert.True(t, IsFatal(ErrorTypeQuotaExceeded))
	assert.True(t, IsFatal(ErrorTypeCheckpointWrite))
	assert.False(t, IsFatal(ErrorTypeStorageCorruption))
	assert.False(t, IsFatal(ErrorTypeExhausted))
}

func TestSentinelMatching(t *testing.T) {
	quota := QuotaExceeded(25000, 25000)
	wrapped := fmt.Errorf("search: %w", quota)

	assert.True(t, stderrors.Is(wrapped, ErrQuotaExceeded))
	assert.Equal(t, ErrorTypeQuotaExceeded, TypeOf(wrapped))
	assert.Contains(t, quota.Error(), "25000/25000")

	rejected := Rejected("missing title")
	assert.True(t, stderrors.Is(rejected, ErrRejected))
	assert.Equal(t, ErrorTypeExtractionRejected, TypeOf(rejected))

	assert.Equal(t, ErrorTypeUnknown, TypeOf(stderrors.New("boom")))
	assert.Equal(t, ErrorType(""), TypeOf(nil))
}

func TestErrorString(t *testing.T) {
	err := &Error{Type: ErrorTypeNotFound, Code: 404, Message: "page missing", Unit: "2120920"}
	assert.Equal(t, "not_found error (code 404): page missing [unit 2120920]", err.Error())
}
