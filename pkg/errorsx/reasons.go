package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Fatal to session start.
	ReasonPermissionDenied ReasonCode = "permission_denied"
	ReasonDeviceSession    ReasonCode = "device_session"
	ReasonFileCreate       ReasonCode = "file_create"

	// Degraded but non-fatal: capture continues without transcription.
	ReasonEngineBringup ReasonCode = "engine_bringup"

	// Per-block, swallowed locally.
	ReasonConvert   ReasonCode = "convert"
	ReasonFileWrite ReasonCode = "file_write"

	// Background tasks, logged only.
	ReasonModelInstall ReasonCode = "model_install"

	ReasonSTTConnect ReasonCode = "stt_connect"
	ReasonSTTSend    ReasonCode = "stt_send"
)
