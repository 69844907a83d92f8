package app

// StopReason labels why the app is shutting down. It only feeds logs; the
// shutdown sequence is the same for every reason.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopShutdown   StopReason = "shutdown"
)
