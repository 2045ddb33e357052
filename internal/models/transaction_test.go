package models

import "testing"

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{StatusPending, StatusPaymentReceived, true},
		{StatusPaymentReceived, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusDelivered, StatusCompleted, true},

		// Failure / settlement paths
		{StatusPending, StatusCancelled, true},
		{StatusPaymentReceived, StatusCancelled, true},
		{StatusPaymentReceived, StatusRefunded, true},
		{StatusShipped, StatusRefunded, true},
		{StatusDelivered, StatusRefunded, true},
		{StatusCompleted, StatusRefunded, true},

		// Dispute branch reachable wherever funds are held, plus post-release chargebacks
		{StatusPaymentReceived, StatusDisputed, true},
		{StatusShipped, StatusDisputed, true},
		{StatusDelivered, StatusDisputed, true},
		{StatusCompleted, StatusDisputed, true},
		{StatusDisputed, StatusRefunded, true},
		{StatusDisputed, StatusCompleted, true},

		// Invalid transitions
		{StatusPending, StatusShipped, false},
		{StatusPending, StatusDelivered, false},
		{StatusShipped, StatusCompleted, false},
		{StatusDelivered, StatusShipped, false},
		{StatusCancelled, StatusPaymentReceived, false},
		{StatusRefunded, StatusCompleted, false},
		{StatusRefunded, StatusDisputed, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusDelivered, StatusCancelled, false},
		{"nonexistent", StatusShipped, false},
		{StatusPending, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []string{
		StatusPending, StatusPaymentReceived, StatusShipped, StatusDelivered,
		StatusCompleted, StatusCancelled, StatusRefunded, StatusDisputed,
	}

	for _, status := range allStatuses {
		if _, ok := ValidTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidTransitions map", status)
		}
	}
}

func TestAbsorbingStatusesHaveNoTransitions(t *testing.T) {
	absorbing := []string{StatusCancelled, StatusRefunded}
	for _, status := range absorbing {
		transitions := ValidTransitions[status]
		if len(transitions) != 0 {
			t.Errorf("absorbing status %q should have no transitions, got %v", status, transitions)
		}
	}
}

func TestHoldsFunds(t *testing.T) {
	held := []string{StatusPaymentReceived, StatusShipped, StatusDelivered, StatusDisputed}
	for _, status := range held {
		if !HoldsFunds(status) {
			t.Errorf("HoldsFunds(%q) = false, want true", status)
		}
	}
	notHeld := []string{StatusPending, StatusCompleted, StatusCancelled, StatusRefunded}
	for _, status := range notHeld {
		if HoldsFunds(status) {
			t.Errorf("HoldsFunds(%q) = true, want false", status)
		}
	}
}

func TestActiveSubStates(t *testing.T) {
	if IsActiveDispute(nil) {
		t.Error("nil dispute status should be inactive")
	}
	for _, s := range []string{DisputeOpen, DisputeUnderReview} {
		s := s
		if !IsActiveDispute(&s) {
			t.Errorf("dispute status %q should be active", s)
		}
	}
	for _, s := range []string{DisputeResolvedBuyer, DisputeResolvedSeller} {
		s := s
		if IsActiveDispute(&s) {
			t.Errorf("dispute status %q should be inactive", s)
		}
	}

	if IsActiveReturn(nil) {
		t.Error("nil return status should be inactive")
	}
	for _, s := range []string{ReturnRequested, ReturnApproved, ReturnShipped, ReturnReceived} {
		s := s
		if !IsActiveReturn(&s) {
			t.Errorf("return status %q should be active", s)
		}
	}
	for _, s := range []string{ReturnRejected, ReturnRefunded} {
		s := s
		if IsActiveReturn(&s) {
			t.Errorf("return status %q should be inactive", s)
		}
	}
}
