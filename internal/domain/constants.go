package domain

const (
	RoleTourist  = "TOURIST"
	RoleBusiness = "BUSINESS"
	RoleAdmin    = "ADMIN"
)

// Transaction kinds. A REVERSAL is the compensating credit written when
// reserved funds are returned to a wallet.
const (
	KindTopUp      = "TOPUP"
	KindPayment    = "PAYMENT"
	KindWithdrawal = "WITHDRAWAL"
	KindReversal   = "REVERSAL"
)

const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

const (
	MethodCard        = "CARD" // card or PayPal hosted checkout
	MethodMobileMoney = "MOBILE_MONEY"
	MethodBank        = "BANK"
	MethodWallet      = "WALLET"
)

// Payout lifecycle of a withdrawal, tracked beside its status so that a
// queued payout can still be cancelled by its owner.
const (
	PayoutQueued    = "QUEUED"
	PayoutInitiated = "INITIATED"
	PayoutCancelled = "CANCELLED"
)

const (
	RevenueWithdrawalFee = "WITHDRAWAL_FEE"
	RevenueTopUpMargin   = "TOPUP_MARGIN"
)

// IsTerminal reports whether status can no longer change.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// ValidTopUpMethod reports whether method can fund a top-up.
func ValidTopUpMethod(method string) bool {
	return method == MethodCard || method == MethodMobileMoney
}

// ValidWithdrawalMethod reports whether method can pay out a withdrawal.
func ValidWithdrawalMethod(method string) bool {
	return method == MethodMobileMoney || method == MethodBank
}
