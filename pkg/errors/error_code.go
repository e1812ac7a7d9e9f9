package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidInterval      ErrorCode = 102
	ErrCodeInvalidSymbol        ErrorCode = 103
	ErrCodeInsufficientData     ErrorCode = 104
	ErrCodeMissingParameter     ErrorCode = 105

	// Market data errors (200-299)
	ErrCodeMarketDataFetchFailed ErrorCode = 200
	ErrCodeMarketDataParseFailed ErrorCode = 201
	ErrCodeStreamOpenFailed      ErrorCode = 202
	ErrCodeStreamClosed          ErrorCode = 203

	// Strategy errors (300-399)
	ErrCodeStrategyNotFound    ErrorCode = 300
	ErrCodeStrategyConfigError ErrorCode = 301
	ErrCodeStrategyNotActive   ErrorCode = 302

	// Persistence errors (400-499)
	ErrCodeStoreReadFailed  ErrorCode = 400
	ErrCodeStoreWriteFailed ErrorCode = 401
	ErrCodeStoreSetupFailed ErrorCode = 402

	// Delivery errors (500-599)
	ErrCodeWebhookFailed ErrorCode = 500
)
