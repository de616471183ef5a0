package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unauthenticated", Unauthenticated("no token"), http.StatusUnauthorized},
		{"not found", NotFound("user not found"), http.StatusNotFound},
		{"denied", Denied(CodePremiumRequired, "premium required"), http.StatusForbidden},
		{"rate limited", RateLimited(time.Now()), http.StatusTooManyRequests},
		{"validation", Validation(CodeInvalidPlan, "bad plan"), http.StatusBadRequest},
		{"integrity", Integrity(CodeUserMismatch, "mismatch"), http.StatusForbidden},
		{"transient", Transient("store", errors.New("io")), http.StatusInternalServerError},
		{"gateway", Gateway("paypal", errors.New("502")), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("op: %w", NotFound("x")), http.StatusNotFound},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("quota.TrackDownload: %w", Transient("failed to update user", cause))

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsKind(err, KindTransient))
	assert.False(t, IsKind(err, KindGateway))

	e, ok := As(err)
	assert.True(t, ok)
	assert.True(t, e.Retryable)
	assert.Equal(t, "failed to update user: connection reset", e.Error())
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "internal error, please try again", PublicMessage(errors.New("db password wrong")))
	assert.Equal(t, "internal error, please try again", PublicMessage(Transient("redis timeout", errors.New("i/o"))))
	assert.Equal(t, "premium required", PublicMessage(Denied(CodePremiumRequired, "premium required")))

	unknown := OutcomeUnknown("payment status unknown, retry capture", errors.New("deadline exceeded"))
	assert.Equal(t, "payment status unknown, retry capture", PublicMessage(unknown))
	assert.True(t, unknown.Retryable)
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(unknown))
}
