package message

import "testing"

func TestStatusStringer(t *testing.T) {
	cases := []struct {
		status Status
		want   string
	}{
		{StatusPending, "PENDING"},
		{StatusSent, "SENT"},
		{StatusDelivered, "DELIVERED"},
		{StatusFailed, "FAILED"},
		{Status(99), "UNKNOWN"},
	}
	for _, tc := range cases {
		if got := tc.status.String(); got != tc.want {
			t.Errorf("Status(%d).String() = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestTransitionToLegalPaths(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
	}{
		{"pending to sent", StatusPending, StatusSent},
		{"pending to delivered", StatusPending, StatusDelivered},
		{"pending to failed", StatusPending, StatusFailed},
		{"sent to delivered", StatusSent, StatusDelivered},
		{"sent to failed", StatusSent, StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &Record{Status: tc.from}
			if err := r.TransitionTo(tc.to); err != nil {
				t.Fatalf("TransitionTo(%v) error: %v", tc.to, err)
			}
			if r.CurrentStatus() != tc.to {
				t.Errorf("CurrentStatus() = %v, want %v", r.CurrentStatus(), tc.to)
			}
		})
	}
}

func TestTransitionToRejectsIllegalPaths(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
	}{
		{"sent back to pending", StatusSent, StatusPending},
		{"delivered to anything", StatusDelivered, StatusSent},
		{"failed to anything", StatusFailed, StatusDelivered},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &Record{Status: tc.from}
			if err := r.TransitionTo(tc.to); err != ErrInvalidTransition {
				t.Errorf("TransitionTo(%v) error = %v, want ErrInvalidTransition", tc.to, err)
			}
		})
	}
}

func TestTransitionToSameStatusIsNoOp(t *testing.T) {
	r := &Record{Status: StatusDelivered}
	if err := r.TransitionTo(StatusDelivered); err != nil {
		t.Errorf("TransitionTo() same-status error = %v, want nil", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	r := &Record{MessageID: "m1", Status: StatusPending}
	c := r.Clone()

	if err := c.TransitionTo(StatusSent); err != nil {
		t.Fatalf("TransitionTo() on clone error: %v", err)
	}
	if r.CurrentStatus() != StatusPending {
		t.Errorf("original record mutated by clone transition: %v", r.CurrentStatus())
	}
}

func TestIsForwardable(t *testing.T) {
	r := &Record{HopCount: MaxHops, TTLMs: 1000}
	if !r.IsForwardable(500) {
		t.Error("IsForwardable() = false at hop budget with time to spare, want true")
	}
	if r.IsForwardable(1500) {
		t.Error("IsForwardable() = true past TTL, want false")
	}

	over := &Record{HopCount: MaxHops + 1, TTLMs: 1000}
	if over.IsForwardable(500) {
		t.Error("IsForwardable() = true over hop budget, want false")
	}
}

func TestIsExpired(t *testing.T) {
	r := &Record{TTLMs: 1000}
	if r.IsExpired(999) {
		t.Error("IsExpired() = true before TTL, want false")
	}
	if !r.IsExpired(1001) {
		t.Error("IsExpired() = false after TTL, want true")
	}
}
