package domain

import (
	"errors"
	"testing"
	"time"
)

func TestLeadTransition_HappyPath(t *testing.T) {
	l := &Lead{Status: LeadNew}
	for _, next := range []LeadStatus{LeadValidated, LeadDedupeChecked, LeadMatched, LeadDispatching, LeadSold} {
		if err := l.Transition(next); err != nil {
			t.Fatalf("Transition(%s): %v", next, err)
		}
	}
	if !l.Status.Terminal() {
		t.Errorf("expected %s to be terminal", l.Status)
	}
}

func TestLeadTransition_EarlyRejections(t *testing.T) {
	l := &Lead{Status: LeadNew}
	if err := l.Transition(LeadRejectedInvalid); err != nil {
		t.Fatalf("NEW -> REJECTED_INVALID: %v", err)
	}

	l = &Lead{Status: LeadValidated}
	if err := l.Transition(LeadRejectedDuplicate); err != nil {
		t.Fatalf("VALIDATED -> REJECTED_DUPLICATE: %v", err)
	}
}

func TestLeadTransition_Illegal(t *testing.T) {
	tests := []struct {
		from, to LeadStatus
	}{
		{LeadNew, LeadSold},
		{LeadSold, LeadUnsold},
		{LeadDedupeChecked, LeadRejectedDuplicate},
		{LeadRejectedInvalid, LeadValidated},
	}
	for _, tt := range tests {
		l := &Lead{Status: tt.from}
		err := l.Transition(tt.to)
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> %s: expected ErrInvalidTransition, got %v", tt.from, tt.to, err)
		}
		if l.Status != tt.from {
			t.Errorf("status changed on illegal transition: %s", l.Status)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	inflight := []LeadStatus{LeadNew, LeadValidated, LeadDedupeChecked, LeadMatched, LeadDispatching}
	for _, s := range inflight {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	terminal := []LeadStatus{LeadSold, LeadUnsold, LeadRejectedInvalid, LeadRejectedDuplicate}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestWindowBucket(t *testing.T) {
	ts := time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC)
	if got := WindowHourly.Bucket(ts); got != "2026030415" {
		t.Errorf("hourly bucket = %s", got)
	}
	if got := WindowDaily.Bucket(ts); got != "20260304" {
		t.Errorf("daily bucket = %s", got)
	}
	if got := WindowLifetime.Bucket(ts); got != "all" {
		t.Errorf("lifetime bucket = %s", got)
	}
}

func TestVerticalFingerprintKeys(t *testing.T) {
	v := Vertical{Fields: []FieldDef{
		{Name: "zip", Type: FieldString, Required: true},
		{Name: "age", Type: FieldInteger},
		{Name: "phone", Type: FieldString, Required: true},
	}}
	keys := v.FingerprintKeys()
	if len(keys) != 2 || keys[0] != "zip" || keys[1] != "phone" {
		t.Errorf("unexpected default keys: %v", keys)
	}

	v.DedupeKeys = []string{"phone"}
	if keys := v.FingerprintKeys(); len(keys) != 1 || keys[0] != "phone" {
		t.Errorf("explicit keys not honored: %v", keys)
	}
}
