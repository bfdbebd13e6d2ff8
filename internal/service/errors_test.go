package service

import (
	"errors"
	"fmt"
	"testing"

	"binancedash/internal/metrics"

	"github.com/stretchr/testify/assert"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, metrics.OutcomeSuccess, outcome(nil))
	assert.Equal(t, metrics.OutcomeRejected, outcome(invalid("api_key", "empty")))
	assert.Equal(t, metrics.OutcomeUnauthorized, outcome(fmt.Errorf("wrapped: %w", &AuthorizationError{})))
	assert.Equal(t, metrics.OutcomeBusy, outcome(&BusyError{}))
	assert.Equal(t, metrics.OutcomeError, outcome(persistence("op", errors.New("db down"))))
}

func TestPersistenceErrorUnwraps(t *testing.T) {
	cause := errors.New("db down")
	err := persistence("保存失败", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "保存失败")
}

func TestNewServicesRequiresDeps(t *testing.T) {
	_, err := NewServices(Deps{})
	assert.Error(t, err)
}
