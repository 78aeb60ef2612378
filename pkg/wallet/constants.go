package wallet

const (
	operationApply = "apply"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	eventIDDelimiter = ":"

	conflictRetryLimit = 3
)
