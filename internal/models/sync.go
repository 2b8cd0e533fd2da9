package models

// SyncOutcome classifies the result of a sync attempt
type SyncOutcome string

const (
	SyncOutcomeOK             SyncOutcome = "ok"
	SyncOutcomeNotLinked      SyncOutcome = "not_linked"
	SyncOutcomeRateLimited    SyncOutcome = "rate_limited"
	SyncOutcomeRemoteRejected SyncOutcome = "remote_rejected"
	SyncOutcomeNetworkError   SyncOutcome = "network_error"
	SyncOutcomeMissingToken   SyncOutcome = "missing_token"
	SyncOutcomeInvalid        SyncOutcome = "invalid_request"
	SyncOutcomeStorageError   SyncOutcome = "storage_error"
)

// SyncRequest asks the engine to push a token to the backend.
// LinkedID zero means "resolve from link state".
type SyncRequest struct {
	Platform    Platform `json:"platform" validate:"required"`
	Token       string   `json:"token"`
	LinkedID    int64    `json:"linked_id,omitempty" validate:"gte=0"`
	AllowCreate bool     `json:"allow_create,omitempty"`
}

// SyncResult is always returned by the engine; failures are outcomes, not errors
type SyncResult struct {
	Success      bool        `json:"success"`
	Outcome      SyncOutcome `json:"outcome"`
	Message      string      `json:"message,omitempty"`
	Platform     Platform    `json:"platform"`
	AuthMethodID int64       `json:"auth_method_id,omitempty"`
	Created      bool        `json:"created,omitempty"`
}

// SweepReport summarises one reconciliation sweep
type SweepReport struct {
	Profile string     `json:"profile"`
	Removed []Platform `json:"removed"`
	Adopted []Platform `json:"adopted,omitempty"`
	Links   LinkState  `json:"links"`
}
