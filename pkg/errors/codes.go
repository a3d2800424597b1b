package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata. Retryable marks
// environmental failures (network, timeout, rate limit, model load); a
// deterministic bad-data verdict about the package itself is never retried.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrTimeout: {
		Code:            ErrTimeout,
		Retryable:       true,
		Description:     "Operation exceeded its time limit",
		SuggestedAction: "Check DOWNLOAD_TIMEOUT and PROCESSING_TIMEOUT_SECONDS configuration",
	},
	ErrSubprocessTimeout: {
		Code:            ErrSubprocessTimeout,
		Retryable:       true,
		Description:     "Native processing binary did not exit within its allotted timeout",
		SuggestedAction: "Inspect the rolling subprocess log tail captured for this package",
	},
	ErrContextCancelled: {
		Code:            ErrContextCancelled,
		Retryable:       false,
		Description:     "Operation cancelled by shutdown or upstream cancellation",
		SuggestedAction: "Check whether cancellation was expected (graceful shutdown in progress)",
	},
	ErrIO: {
		Code:            ErrIO,
		Retryable:       true,
		Description:     "Local filesystem operation failed (disk full, permissions, missing path)",
		SuggestedAction: "Check available disk space and permissions on the scratch and archive directories",
	},
	ErrNetworkUnavailable: {
		Code:            ErrNetworkUnavailable,
		Retryable:       true,
		Description:     "Network endpoint unreachable (drive, download source, or sheet API)",
		SuggestedAction: "Verify network connectivity and endpoint configuration, then retry",
	},
	ErrRateLimit: {
		Code:            ErrRateLimit,
		Retryable:       true,
		Description:     "External API rate limit exceeded",
		SuggestedAction: "Back off and retry; consider reducing MAX_CONCURRENT_DOWNLOADS",
	},
	ErrUnknownFormat: {
		Code:            ErrUnknownFormat,
		Retryable:       false,
		Description:     "Archive format not recognized by any registered decompressor",
		SuggestedAction: "Inspect the package's magic bytes and extension; the source device may need a driver update",
	},
	ErrCorrupt: {
		Code:            ErrCorrupt,
		Retryable:       false,
		Description:     "Archive failed integrity checks during extraction",
		SuggestedAction: "Re-download from the source drive if the original transfer was interrupted",
	},
	ErrPasswordRequired: {
		Code:            ErrPasswordRequired,
		Retryable:       false,
		Description:     "Archive is password protected and no candidate password succeeded",
		SuggestedAction: "Add the archive's password to DEFAULT_PASSWORDS",
	},
	ErrOversizedBefore: {
		Code:            ErrOversizedBefore,
		Retryable:       false,
		Description:     "Archive size before extraction exceeds the configured maximum",
		SuggestedAction: "Verify MAX_FILE_SIZE_MB matches the expected package size for this device",
	},
	ErrOversizedAfter: {
		Code:            ErrOversizedAfter,
		Retryable:       false,
		Description:     "Extracted contents exceed the configured maximum size",
		SuggestedAction: "Verify the archive was not built from an unexpectedly long recording",
	},
	ErrDurationTooShort: {
		Code:            ErrDurationTooShort,
		Retryable:       false,
		Description:     "Recording duration falls below the minimum accepted duration",
		SuggestedAction: "Confirm the capture was not stopped prematurely on the device",
	},
	ErrDurationTooLong: {
		Code:            ErrDurationTooLong,
		Retryable:       false,
		Description:     "Recording duration exceeds the maximum accepted duration",
		SuggestedAction: "Confirm the device did not merge multiple sessions into one recording",
	},
	ErrSubprocessNonZeroExit: {
		Code:            ErrSubprocessNonZeroExit,
		Retryable:       true,
		Description:     "Native processing binary exited with a non-zero status",
		SuggestedAction: "Inspect the rolling subprocess log tail; the exit code is reported and the run is not retried automatically",
	},
	ErrModelUnavailable: {
		Code:            ErrModelUnavailable,
		Retryable:       true,
		Description:     "Object detection model runtime unavailable or failed to load",
		SuggestedAction: "Check the detector's model path and device hint; the facade will fall back to degraded mode",
	},
	ErrStageDependencyFailed: {
		Code:            ErrStageDependencyFailed,
		Retryable:       false,
		Description:     "An upstream pipeline stage failed, so this stage was skipped",
		SuggestedAction: "Fix the upstream stage failure first; this stage does not need independent retry",
	},
	ErrAlreadyProcessed: {
		Code:            ErrAlreadyProcessed,
		Retryable:       false,
		Description:     "Package identifier is already present in the tracker",
		SuggestedAction: "This is expected for a re-observed package; no action needed",
	},
	ErrProcessingError: {
		Code:            ErrProcessingError,
		Retryable:       false,
		Description:     "Unclassified processing error",
		SuggestedAction: "Check the orchestrator logs for this package's remote_id",
	},
}

// IsRetryable returns true if the given error code represents a transient, retryable error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Check the orchestrator logs for more detail"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
