package errors

import "strings"

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal     ErrorCode = "COMMON_001"
	ErrCodeInvalidParam ErrorCode = "COMMON_002"
	ErrCodeInvalidState ErrorCode = "COMMON_003"
	ErrCodeCanceled     ErrorCode = "COMMON_004"
	ErrCodeStorage      ErrorCode = "COMMON_005"
)

// Network Module Error Codes
const (
	ErrCodeConfig     ErrorCode = "NET_001"
	ErrCodeGraphBuild ErrorCode = "NET_002"
	ErrCodeSolver     ErrorCode = "NET_003"
)

// Data and Model Error Codes
const (
	ErrCodeData       ErrorCode = "DATA_001"
	ErrCodeCheckpoint ErrorCode = "MODEL_001"
	ErrCodeModelShape ErrorCode = "MODEL_002"
)

// Aliases used at call sites.
const (
	CodeOK      = ErrorCode("OK")
	CodeUnknown = ErrorCode("UNKNOWN")

	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeInvalidParam
	CodeInvalidState = ErrCodeInvalidState
	CodeCanceled     = ErrCodeCanceled
	CodeStorageError = ErrCodeStorage

	CodeConfigError     = ErrCodeConfig
	CodeGraphBuildError = ErrCodeGraphBuild
	CodeSolverError     = ErrCodeSolver
	CodeDataError       = ErrCodeData
	CodeCheckpointError = ErrCodeCheckpoint
	CodeModelShape      = ErrCodeModelShape
)

// ErrorCodeExitStatus maps ErrorCodes to process exit statuses.
var ErrorCodeExitStatus = map[ErrorCode]int{
	ErrCodeInternal:     1,
	ErrCodeInvalidParam: 2,
	ErrCodeInvalidState: 1,
	ErrCodeCanceled:     130,
	ErrCodeStorage:      1,
	ErrCodeConfig:       3,
	ErrCodeGraphBuild:   4,
	ErrCodeSolver:       4,
	ErrCodeData:         5,
	ErrCodeCheckpoint:   6,
	ErrCodeModelShape:   6,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:     "internal error",
	ErrCodeInvalidParam: "invalid parameter",
	ErrCodeInvalidState: "invalid state transition",
	ErrCodeCanceled:     "operation canceled",
	ErrCodeStorage:      "artifact storage error",
	ErrCodeConfig:       "invalid network configuration",
	ErrCodeGraphBuild:   "graph construction failed",
	ErrCodeSolver:       "dc-opf solve failed",
	ErrCodeData:         "malformed scenario data",
	ErrCodeCheckpoint:   "checkpoint unavailable or incompatible",
	ErrCodeModelShape:   "parameter shape mismatch",
}

// ExitStatusForCode returns the process exit status for an ErrorCode.
func ExitStatusForCode(code ErrorCode) int {
	if code == CodeOK {
		return 0
	}
	if status, ok := ErrorCodeExitStatus[code]; ok {
		return status
	}
	return 1
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
