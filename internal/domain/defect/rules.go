package defect

import (
	"crypto/sha256"
	"encoding/hex"
)

// AllDone reports whether a fan-out stage's collaborator tally is complete.
// An instance with zero counting records is never done: vacuous truth is
// explicitly disallowed, a stage cannot finish on the back of nobody's work.
func AllDone(statuses []CollaboratorStatus) bool {
	counting := 0
	for _, s := range statuses {
		if !s.CountsTowardDone() {
			continue
		}
		counting++
		if s != CollabCompleted {
			return false
		}
	}
	return counting > 0
}

// Fingerprint is the content identity used for change detection and for the
// self-evaluation cache. Two submissions compare equal iff their bytes do.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// CanReactivate reports whether a completed instance may be brought back as
// the rollback target.
func CanReactivate(s StageStatus) bool {
	return s == StageCompleted || s == StageRejected || s == StageNotPass
}

// CanReinvite reports whether a new record may be created for an assignee who
// already has one on the stage. Declined assignees stay declined.
func CanReinvite(existing CollaboratorStatus) error {
	switch existing {
	case CollabInvitationRejected:
		return ErrAlreadyDeclined
	case CollabPending, CollabTransferred, CollabAccepted:
		return ErrAlreadyInvited
	case CollabRejected, CollabCancelled, CollabCompleted:
		return nil
	}
	return ErrInvalidEnum
}
