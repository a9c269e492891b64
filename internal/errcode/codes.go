package errcode

// Math
var (
	ErrMath = New(6001, KindMath, "MathError", "overflow or division failure")
)

// Structural
var (
	ErrMissingBankOrOracleInput  = New(6010, KindStructural, "MissingPythOrBankAccount", "remaining inputs are short for the active balances")
	ErrInvalidBankAccount        = New(6011, KindStructural, "InvalidBankAccount", "supplied bank does not match balance")
	ErrWrongNumberOfOracleInputs = New(6012, KindStructural, "WrongNumberOfOracleAccounts", "wrong number of oracle inputs for setup")
	ErrAccountInFlashloan        = New(6014, KindStructural, "AccountInFlashloan", "account is in a flash loan")
	ErrAccountDisabled           = New(6015, KindStructural, "AccountDisabled", "account is disabled")
	ErrBalanceSlotsFull          = New(6016, KindStructural, "LendingAccountBalanceSlotsFull", "no free balance slot")
	ErrBalanceNotFound           = New(6017, KindStructural, "LendingAccountBalanceNotFound", "balance not found")
	ErrIllegalFlashloan          = New(6018, KindStructural, "IllegalFlashloan", "illegal flash loan transition")
	ErrIllegalAction             = New(6019, KindStructural, "IllegalAction", "action not permitted in current state")
	ErrBankNotFound              = New(6020, KindStructural, "BankNotFound", "bank not found")
	ErrAccountNotFound           = New(6021, KindStructural, "AccountNotFound", "account not found")
	ErrDuplicateOperation        = New(6022, KindStructural, "DuplicateOperation", "operation already applied")
	ErrIllegalBalanceState       = New(6023, KindStructural, "IllegalBalanceState", "share total would become negative")
)

// Oracle
var (
	ErrInvalidOracleAccount         = New(6045, KindOracle, "InvalidOracleAccount", "oracle input key does not match bank configuration")
	ErrOracleNotSetup               = New(6030, KindOracle, "OracleNotSetup", "bank has no oracle configured")
	ErrPythLegacyDeprecated         = New(6031, KindOracle, "PythLegacyDeprecated", "pyth legacy oracle is no longer supported")
	ErrSwitchboardV2Deprecated      = New(6032, KindOracle, "SwitchboardV2Deprecated", "switchboard v2 oracle is no longer supported")
	ErrPythPushStalePrice           = New(6033, KindOracle, "PythPushStalePrice", "pyth push price is stale")
	ErrPythPushWrongAccountOwner    = New(6034, KindOracle, "PythPushWrongAccountOwner", "pyth push account has wrong owner")
	ErrPythPushInvalidAccount       = New(6035, KindOracle, "PythPushInvalidAccount", "pyth push account is malformed")
	ErrPythPushMismatchedFeedID     = New(6036, KindOracle, "PythPushMismatchedFeedId", "pyth push feed id does not match bank")
	ErrPythPushInsufficientVerify   = New(6037, KindOracle, "PythPushInsufficientVerificationLevel", "pyth push update is not fully verified")
	ErrSwitchboardStalePrice        = New(6038, KindOracle, "SwitchboardStalePrice", "switchboard price is stale")
	ErrSwitchboardWrongAccountOwner = New(6039, KindOracle, "SwitchboardWrongAccountOwner", "switchboard account has wrong owner")
	ErrSwitchboardInvalidAccount    = New(6040, KindOracle, "SwitchboardInvalidAccount", "switchboard account is malformed")
	ErrStakedPythPushWrongOwner     = New(6041, KindOracle, "StakedPythPushWrongAccountOwner", "staked collateral input has wrong owner")
	ErrStakePoolValidationFailed    = New(6042, KindOracle, "StakePoolValidationFailed", "stake pool inputs do not match bank")
	ErrOracleMaxConfidenceExceeded  = New(6043, KindOracle, "OracleMaxConfidenceExceeded", "oracle confidence interval too wide")
	ErrOracleInvalidPrice           = New(6044, KindOracle, "OracleInvalidPrice", "oracle price is not positive")
)

// Policy
var (
	ErrRiskEngineInitRejected         = New(6050, KindPolicy, "RiskEngineInitRejected", "account would be undercollateralized")
	ErrIsolatedAccountIllegalState    = New(6051, KindPolicy, "IsolatedAccountIllegalState", "isolated liability must be the only liability")
	ErrOperationRepayOnly             = New(6052, KindPolicy, "OperationRepayOnly", "repay would create a deposit")
	ErrOperationDepositOnly           = New(6053, KindPolicy, "OperationDepositOnly", "deposit would repay a liability")
	ErrOperationWithdrawOnly          = New(6054, KindPolicy, "OperationWithdrawOnly", "withdraw would create a liability")
	ErrOperationBorrowOnly            = New(6055, KindPolicy, "OperationBorrowOnly", "borrow would withdraw a deposit")
	ErrBankPaused                     = New(6056, KindPolicy, "BankPaused", "bank is paused")
	ErrBankReduceOnly                 = New(6057, KindPolicy, "BankReduceOnly", "bank only accepts reducing operations")
	ErrBankAssetCapacityExceeded      = New(6058, KindPolicy, "BankAssetCapacityExceeded", "bank deposit limit reached")
	ErrBankLiabilityCapacityExceeded  = New(6059, KindPolicy, "BankLiabilityCapacityExceeded", "bank borrow limit reached")
	ErrBadEmodeConfig                 = New(6060, KindPolicy, "BadEmodeConfig", "invalid emode configuration")
	ErrInvalidConfig                  = New(6061, KindPolicy, "InvalidConfig", "invalid bank configuration")
	ErrIllegalUtilizationRatio        = New(6062, KindPolicy, "IllegalUtilizationRatio", "liabilities exceed assets")
	ErrNoAssetFound                   = New(6063, KindPolicy, "NoAssetFound", "balance holds no asset")
	ErrNoLiabilityFound               = New(6064, KindPolicy, "NoLiabilityFound", "balance holds no liability")
	ErrAccountNotBankrupt             = New(6065, KindPolicy, "AccountNotBankrupt", "account is not bankrupt")
	ErrBalanceNotBadDebt              = New(6066, KindPolicy, "BalanceNotBadDebt", "balance has no bad debt")
	ErrHealthyAccount                 = New(6067, KindPolicy, "HealthyAccount", "account is not liquidatable")
	ErrIllegalLiquidation             = New(6068, KindPolicy, "IllegalLiquidation", "liquidation arguments are invalid")
	ErrTooSevereLiquidation           = New(6069, KindPolicy, "TooSevereLiquidation", "liquidation left account healthy")
	ErrWorseHealthPostLiquidation     = New(6070, KindPolicy, "WorseHealthPostLiquidation", "liquidation did not improve health")
	ErrExhaustedLiability             = New(6071, KindPolicy, "ExhaustedLiability", "liquidation exhausted the liability")
	ErrUnauthorized                   = New(6072, KindPolicy, "Unauthorized", "caller is not authorized")
	ErrCannotCloseOutstandingEmission = New(6073, KindPolicy, "CannotCloseOutstandingEmissions", "balance has unclaimed emissions")
)

var oracleErrors = []*Error{
	ErrInvalidOracleAccount,
	ErrOracleNotSetup,
	ErrPythLegacyDeprecated,
	ErrSwitchboardV2Deprecated,
	ErrPythPushStalePrice,
	ErrPythPushWrongAccountOwner,
	ErrPythPushInvalidAccount,
	ErrPythPushMismatchedFeedID,
	ErrPythPushInsufficientVerify,
	ErrSwitchboardStalePrice,
	ErrSwitchboardWrongAccountOwner,
	ErrSwitchboardInvalidAccount,
	ErrStakedPythPushWrongOwner,
	ErrStakePoolValidationFailed,
	ErrOracleMaxConfidenceExceeded,
	ErrOracleInvalidPrice,
}
