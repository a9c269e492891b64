package state

import fpmath "MarginLedger/internal/math"

// MaxBalances is the fixed number of balance slots per account.
const MaxBalances = 16

// TotalAssetValueInitLimitInactive disables the USD deposit-value discount.
const TotalAssetValueInitLimitInactive uint64 = 0

// NoLimit is the deposit/borrow limit sentinel for an uncapped bank.
const NoLimit = ^uint64(0)

var (
	// Shares below this are treated as dust when classifying a balance.
	EmptyBalanceThreshold = fpmath.One
	// Amounts below this are treated as zero by operation policies.
	ZeroAmountThreshold = fpmath.MustFromString("0.0001")
	// Equity-regime assets under this (USD) mean the account is wiped out.
	BankruptThreshold = fpmath.MustFromString("0.1")

	SecondsPerYear = fpmath.FromInt(31_536_000)

	LiquidationLiquidatorFee = fpmath.MustFromString("0.025")
	LiquidationInsuranceFee  = fpmath.MustFromString("0.025")
)

// Bank flags.
const (
	EmissionsFlagBorrowActive       uint64 = 1 << 0
	EmissionsFlagLendingActive      uint64 = 1 << 1
	PermissionlessBadDebtSettlement uint64 = 1 << 2
	FreezeSettings                  uint64 = 1 << 3
)

// Account flags.
const (
	AccountDisabled                 uint64 = 1 << 0
	AccountInFlashloan              uint64 = 1 << 1
	AccountTransferAuthorityAllowed uint64 = 1 << 3
)
