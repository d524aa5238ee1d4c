package model

import "fmt"

// SubjectStatus mirrors the UserStatus enum on the CharonSwitch contract.
type SubjectStatus uint8

const (
	StatusAlive               SubjectStatus = 0
	StatusPendingVerification SubjectStatus = 1
	StatusDeceased            SubjectStatus = 2
)

func (s SubjectStatus) String() string {
	switch s {
	case StatusAlive:
		return "ALIVE"
	case StatusPendingVerification:
		return "PENDING_VERIFICATION"
	case StatusDeceased:
		return "DECEASED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// StatusChangeEvent is one StatusChanged log entry read from the ledger.
type StatusChangeEvent struct {
	Subject     string        `json:"subject"`
	OldStatus   SubjectStatus `json:"oldStatus"`
	NewStatus   SubjectStatus `json:"newStatus"`
	BlockHeight uint64        `json:"blockHeight"`
}

// UserInfo is the getUserInfo view of a subject: current status, last
// heartbeat, and up to three guardian slots (zero address = empty slot).
type UserInfo struct {
	Status   SubjectStatus
	LastSeen int64 // unix seconds
	Guardians [3]string
}
