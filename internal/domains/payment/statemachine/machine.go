package statemachine

import (
	"errors"
	"fmt"
)

// =====================================================
// PAYMENT STATUS
// =====================================================

type Status string

const (
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusSucceeded         Status = "succeeded"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusSucceeded,
	StatusRefunded,
	StatusPartiallyRefunded,
	StatusFailed,
	StatusCancelled,
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no trigger can move the payment out of s.
func (s Status) IsTerminal() bool {
	for _, t := range AllTriggers {
		if CanFire(s, t) {
			return false
		}
	}
	return true
}

// =====================================================
// TRIGGERS
// =====================================================

type Trigger string

const (
	TriggerProcess       Trigger = "process"
	TriggerComplete      Trigger = "complete"
	TriggerFail          Trigger = "fail"
	TriggerRefund        Trigger = "refund"
	TriggerPartialRefund Trigger = "partial_refund"
	TriggerCancel        Trigger = "cancel"
)

var AllTriggers = []Trigger{
	TriggerProcess,
	TriggerComplete,
	TriggerFail,
	TriggerRefund,
	TriggerPartialRefund,
	TriggerCancel,
}

// =====================================================
// TRANSITION TABLE
// =====================================================

type transitionKey struct {
	from    Status
	trigger Trigger
}

var transitions = map[transitionKey]Status{
	{StatusPending, TriggerProcess}:         StatusProcessing,
	{StatusPending, TriggerFail}:            StatusFailed,
	{StatusPending, TriggerCancel}:          StatusCancelled,
	{StatusProcessing, TriggerComplete}:     StatusSucceeded,
	{StatusProcessing, TriggerFail}:         StatusFailed,
	{StatusSucceeded, TriggerRefund}:        StatusRefunded,
	{StatusSucceeded, TriggerPartialRefund}: StatusPartiallyRefunded,
}

// ErrInvalidTransition is matched by every *InvalidTransitionError.
var ErrInvalidTransition = errors.New("invalid payment status transition")

type InvalidTransitionError struct {
	From    Status
	Trigger Trigger
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s a payment in status %s", e.Trigger, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// CanFire reports whether trigger is permitted from status.
func CanFire(status Status, trigger Trigger) bool {
	_, ok := transitions[transitionKey{status, trigger}]
	return ok
}

// Fire returns the status reached by applying trigger to status.
// On rejection the returned status is the unchanged input.
func Fire(status Status, trigger Trigger) (Status, error) {
	next, ok := transitions[transitionKey{status, trigger}]
	if !ok {
		return status, &InvalidTransitionError{From: status, Trigger: trigger}
	}
	return next, nil
}

// PermittedTriggers returns the triggers that may fire from status.
func PermittedTriggers(status Status) []Trigger {
	var out []Trigger
	for _, t := range AllTriggers {
		if CanFire(status, t) {
			out = append(out, t)
		}
	}
	return out
}
