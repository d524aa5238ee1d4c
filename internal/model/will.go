package model

import "time"

// DigitalWill is one stored instruction: a target site, a sealed credential
// and the free-text instruction to carry out once the subject is DECEASED.
// Wills are written by the authoring API and read-only to the pipeline.
type DigitalWill struct {
	ID              string    `json:"id"`
	Subject         string    `json:"subject"`
	TargetURL       string    `json:"targetUrl"`
	Username        string    `json:"username"`
	EncryptedSecret string    `json:"encryptedSecret"`
	SecretHash      string    `json:"secretHash"`
	Instruction     string    `json:"instruction"`
	TOTPSecret      string    `json:"totpSecret,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// GuardianNotification records one grace-period email sent to a guardian
// after a PENDING_VERIFICATION transition. Best-effort: a failed send is
// logged, not retried.
type GuardianNotification struct {
	Subject       string    `json:"subject"`
	Guardian      string    `json:"guardian"`
	Email         string    `json:"email"`
	SentAt        time.Time `json:"sentAt"`
	GraceDeadline time.Time `json:"graceDeadline"`
}
