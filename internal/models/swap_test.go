package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSwapStatusValidity(t *testing.T) {
	valid := []SwapStatus{
		SwapStatusPending, SwapStatusAccepted, SwapStatusDeclined,
		SwapStatusInProgress, SwapStatusCompleted, SwapStatusCancelled,
	}
	for _, s := range valid {
		assert.True(t, s.IsValid(), string(s))
	}
	assert.False(t, SwapStatus("rejected").IsValid())
	assert.False(t, SwapStatus("").IsValid())
}

func TestSwapStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to SwapStatus
		allowed  bool
	}{
		{SwapStatusPending, SwapStatusAccepted, true},
		{SwapStatusPending, SwapStatusDeclined, true},
		{SwapStatusPending, SwapStatusCancelled, true},
		{SwapStatusPending, SwapStatusInProgress, false},
		{SwapStatusPending, SwapStatusCompleted, false},
		{SwapStatusAccepted, SwapStatusInProgress, true},
		{SwapStatusAccepted, SwapStatusCancelled, true},
		{SwapStatusAccepted, SwapStatusPending, false},
		{SwapStatusAccepted, SwapStatusCompleted, false},
		{SwapStatusInProgress, SwapStatusCompleted, true},
		{SwapStatusInProgress, SwapStatusCancelled, true},
		{SwapStatusInProgress, SwapStatusAccepted, false},
		// Конечные статусы не покидаются
		{SwapStatusDeclined, SwapStatusPending, false},
		{SwapStatusCompleted, SwapStatusCancelled, false},
		{SwapStatusCancelled, SwapStatusPending, false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestSwapStatusTerminal(t *testing.T) {
	assert.False(t, SwapStatusPending.IsTerminal())
	assert.False(t, SwapStatusAccepted.IsTerminal())
	assert.False(t, SwapStatusInProgress.IsTerminal())
	assert.True(t, SwapStatusDeclined.IsTerminal())
	assert.True(t, SwapStatusCompleted.IsTerminal())
	assert.True(t, SwapStatusCancelled.IsTerminal())
}

func TestNegotiationActionValidity(t *testing.T) {
	for _, a := range []NegotiationAction{
		ActionMessage, ActionCounterOffer, ActionAccept,
		ActionDecline, ActionComplete, ActionCancel,
	} {
		assert.True(t, a.IsValid(), string(a))
	}
	assert.False(t, NegotiationAction("reject").IsValid())
}

func TestSwapRoleOf(t *testing.T) {
	requester := uuid.New()
	owner := uuid.New()
	s := &Swap{RequesterID: requester, OwnerID: owner}

	assert.Equal(t, RoleRequester, s.RoleOf(requester))
	assert.Equal(t, RoleOwner, s.RoleOf(owner))
	assert.Equal(t, RoleNone, s.RoleOf(uuid.New()))

	assert.Equal(t, owner, s.CounterpartOf(requester))
	assert.Equal(t, requester, s.CounterpartOf(owner))
}

func TestSwapAppendEvent(t *testing.T) {
	s := &Swap{}
	actor := uuid.New()
	now := time.Now()

	s.AppendEvent(actor, "Анна", "привет", ActionMessage, now)
	s.AppendEvent(actor, "Анна", "", ActionCancel, now.Add(time.Minute))

	assert.Len(t, s.NegotiationHistory, 2)
	assert.Equal(t, ActionMessage, s.NegotiationHistory[0].Action)
	assert.Equal(t, "Анна", s.NegotiationHistory[0].ActorName)
	assert.Equal(t, ActionCancel, s.NegotiationHistory[1].Action)
}

func TestSwapBothConfirmed(t *testing.T) {
	s := &Swap{}
	assert.False(t, s.BothConfirmed())

	s.Confirmation.RequesterConfirmed = true
	assert.False(t, s.BothConfirmed())

	s.Confirmation.OwnerConfirmed = true
	assert.True(t, s.BothConfirmed())
}

func TestUserDisplayName(t *testing.T) {
	assert.Equal(t, "Анна Петрова", (&User{FirstName: "Анна", LastName: "Петрова"}).DisplayName())
	assert.Equal(t, "Анна", (&User{FirstName: "Анна"}).DisplayName())
	assert.Equal(t, "anna_p", (&User{Username: "anna_p"}).DisplayName())
	assert.Equal(t, "", (*User)(nil).DisplayName())
}
