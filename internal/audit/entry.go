package audit

// Event kinds recorded by lockwatch.
const (
	EventEngineStarted      = "engine_started"
	EventPromptShown        = "prompt_shown"
	EventPromptRejected     = "prompt_rejected"
	EventPromptAccepted     = "prompt_accepted"
	EventPromptDismissed    = "prompt_dismissed"
	EventResumeFailed       = "resume_failed"
	EventSessionsReset      = "sessions_reset"
	EventMonitoringChanged  = "monitoring_changed"
	EventCredentialsChanged = "credentials_changed"
	EventFailOpen           = "fail_open"
)

// Entry is one line in the hash-chained JSONL audit log.
// Fields are plain strings so json.Marshal output is deterministic.
// Secrets are never recorded.
type Entry struct {
	Timestamp string `json:"ts"`
	SessionID string `json:"session_id"`
	Subject   string `json:"subject,omitempty"`
	Event     string `json:"event"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	PrevHash  string `json:"prev_hash"`
}
