package defect

import (
	"errors"
	"testing"
)

func TestAllDone(t *testing.T) {
	cases := []struct {
		name     string
		statuses []CollaboratorStatus
		want     bool
	}{
		{name: "no records", statuses: nil, want: false},
		{name: "only cancelled", statuses: []CollaboratorStatus{CollabCancelled}, want: false},
		{name: "only declined", statuses: []CollaboratorStatus{CollabInvitationRejected}, want: false},
		{name: "one completed", statuses: []CollaboratorStatus{CollabCompleted}, want: true},
		{name: "one pending", statuses: []CollaboratorStatus{CollabPending}, want: false},
		{name: "completed plus pending", statuses: []CollaboratorStatus{CollabCompleted, CollabPending}, want: false},
		{name: "completed plus cancelled", statuses: []CollaboratorStatus{CollabCompleted, CollabCancelled}, want: true},
		{name: "transferred blocks", statuses: []CollaboratorStatus{CollabCompleted, CollabTransferred}, want: false},
		{name: "rejected blocks", statuses: []CollaboratorStatus{CollabCompleted, CollabRejected}, want: false},
		{name: "all completed", statuses: []CollaboratorStatus{CollabCompleted, CollabCompleted, CollabCompleted}, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AllDone(tc.statuses); got != tc.want {
				t.Fatalf("AllDone(%v) = %v, want %v", tc.statuses, got, tc.want)
			}
		})
	}
}

func TestFingerprintIdentity(t *testing.T) {
	a := Fingerprint("same content")
	b := Fingerprint("same content")
	c := Fingerprint("same content ")

	if a != b {
		t.Fatalf("identical content fingerprints differ: %q vs %q", a, b)
	}
	if a == c {
		t.Fatal("trailing whitespace did not change the fingerprint")
	}
	if len(a) != 64 {
		t.Fatalf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestCanReactivate(t *testing.T) {
	cases := []struct {
		status StageStatus
		want   bool
	}{
		{StageCompleted, true},
		{StageRejected, true},
		{StageNotPass, true},
		{StageInProgress, false},
		{StageEvaluating, false},
		{StageCancelled, false},
		{StageTerminated, false},
	}
	for _, tc := range cases {
		if got := CanReactivate(tc.status); got != tc.want {
			t.Fatalf("CanReactivate(%s) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestCanReinvite(t *testing.T) {
	cases := []struct {
		existing CollaboratorStatus
		wantErr  error
	}{
		{CollabInvitationRejected, ErrAlreadyDeclined},
		{CollabPending, ErrAlreadyInvited},
		{CollabAccepted, ErrAlreadyInvited},
		{CollabTransferred, ErrAlreadyInvited},
		{CollabRejected, nil},
		{CollabCancelled, nil},
		{CollabCompleted, nil},
	}
	for _, tc := range cases {
		err := CanReinvite(tc.existing)
		if tc.wantErr == nil {
			if err != nil {
				t.Fatalf("CanReinvite(%s) error = %v, want nil", tc.existing, err)
			}
			continue
		}
		if !errors.Is(err, tc.wantErr) {
			t.Fatalf("CanReinvite(%s) error = %v, want %v", tc.existing, err, tc.wantErr)
		}
	}
}
