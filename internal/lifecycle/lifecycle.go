// Package lifecycle owns the subscription state machine. Transition is a pure
// function; all persistence, locking and idempotency live in the services
// layer that calls it.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/atakanuz/gatekeeper/internal/models"
)

// EventKind is a logical lifecycle trigger, already normalized against the
// subscription's current state (a provider "charge_succeeded" on an active
// subscription arrives here as EventRenewalChargeSucceeded).
type EventKind string

const (
	EventChargeSucceeded        EventKind = "charge_succeeded"
	EventChargeFailed           EventKind = "charge_failed"
	EventRenewalChargeSucceeded EventKind = "renewal_charge_succeeded"
	EventRenewalChargeFailed    EventKind = "renewal_charge_failed"
	EventUserCancel             EventKind = "user_cancel"
	EventProviderCancel         EventKind = "provider_cancel"
	EventGraceWindowElapsed     EventKind = "grace_window_elapsed"
)

// Intent is the membership change implied by a transition.
type Intent string

const (
	IntentNone   Intent = ""
	IntentGrant  Intent = "grant"
	IntentRevoke Intent = "revoke"
)

// ErrInvalidTransition is returned for any (state, event) pair outside the
// transition table. Callers must surface it, never swallow it.
var ErrInvalidTransition = errors.New("invalid subscription transition")

// Result describes the outcome of a valid transition.
type Result struct {
	Next         string
	Intent       Intent
	ExtendPeriod bool // successful (renewal) charge pushes current_period_end forward
	EnterGrace   bool // grace_until must be stamped
}

type transitionKey struct {
	state string
	event EventKind
}

var transitions = map[transitionKey]Result{
	{models.SubscriptionStatePending, EventChargeSucceeded}: {Next: models.SubscriptionStateActive, Intent: IntentGrant, ExtendPeriod: true},
	{models.SubscriptionStatePending, EventChargeFailed}:    {Next: models.SubscriptionStateCanceled},
	// Abandoning an unpaid checkout frees the (community, user) slot.
	{models.SubscriptionStatePending, EventUserCancel}: {Next: models.SubscriptionStateCanceled},

	{models.SubscriptionStateActive, EventRenewalChargeSucceeded}: {Next: models.SubscriptionStateActive, ExtendPeriod: true},
	{models.SubscriptionStateActive, EventRenewalChargeFailed}:    {Next: models.SubscriptionStateGracePeriod, EnterGrace: true},
	{models.SubscriptionStateActive, EventUserCancel}:             {Next: models.SubscriptionStateCanceled, Intent: IntentRevoke},
	{models.SubscriptionStateActive, EventProviderCancel}:         {Next: models.SubscriptionStateCanceled, Intent: IntentRevoke},

	{models.SubscriptionStateGracePeriod, EventChargeSucceeded}: {Next: models.SubscriptionStateActive, ExtendPeriod: true},
	// A provider retry of the failed renewal may report success as a renewal event.
	{models.SubscriptionStateGracePeriod, EventRenewalChargeSucceeded}: {Next: models.SubscriptionStateActive, ExtendPeriod: true},
	// Repeated renewal failures inside the window keep the subscription in grace.
	{models.SubscriptionStateGracePeriod, EventRenewalChargeFailed}: {Next: models.SubscriptionStateGracePeriod},
	{models.SubscriptionStateGracePeriod, EventGraceWindowElapsed}:  {Next: models.SubscriptionStateExpired, Intent: IntentRevoke},
	{models.SubscriptionStateGracePeriod, EventUserCancel}:          {Next: models.SubscriptionStateCanceled, Intent: IntentRevoke},
	{models.SubscriptionStateGracePeriod, EventProviderCancel}:      {Next: models.SubscriptionStateCanceled, Intent: IntentRevoke},
}

// Transition applies the state machine table. Terminal states absorb every
// event as a no-op with no intent. Any other unrecognized pair returns
// ErrInvalidTransition and the caller must roll back whatever triggered it.
func Transition(state string, event EventKind) (Result, error) {
	if state == models.SubscriptionStateExpired || state == models.SubscriptionStateCanceled {
		return Result{Next: state}, nil
	}

	res, ok := transitions[transitionKey{state: state, event: event}]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, state, event)
	}
	return res, nil
}
