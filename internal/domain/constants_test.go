package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"safaripay/internal/domain"
)

func TestIsTerminal(t *testing.T) {
	assert.False(t, domain.IsTerminal(domain.StatusPending))
	assert.True(t, domain.IsTerminal(domain.StatusCompleted))
	assert.True(t, domain.IsTerminal(domain.StatusFailed))
}

func TestMethodsPerKind(t *testing.T) {
	assert.True(t, domain.ValidTopUpMethod(domain.MethodCard))
	assert.True(t, domain.ValidTopUpMethod(domain.MethodMobileMoney))
	assert.False(t, domain.ValidTopUpMethod(domain.MethodBank))
	assert.False(t, domain.ValidTopUpMethod(domain.MethodWallet))

	assert.True(t, domain.ValidWithdrawalMethod(domain.MethodBank))
	assert.True(t, domain.ValidWithdrawalMethod(domain.MethodMobileMoney))
	assert.False(t, domain.ValidWithdrawalMethod(domain.MethodCard))
}
