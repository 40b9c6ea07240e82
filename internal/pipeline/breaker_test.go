package pipeline

import (
	"testing"
	"time"
)

func TestFailureWindowTripsAtThreshold(t *testing.T) {
	fw := NewFailureWindow(3, time.Minute)
	if fw.RecordFailure() {
		t.Fatal("should not trip after 1 failure")
	}
	if fw.RecordFailure() {
		t.Fatal("should not trip after 2 failures")
	}
	if !fw.RecordFailure() {
		t.Fatal("should trip after 3 failures")
	}
}

func TestFailureWindowResetsOnSuccess(t *testing.T) {
	fw := NewFailureWindow(3, time.Minute)
	fw.RecordFailure()
	fw.RecordFailure()
	fw.RecordSuccess()
	if fw.RecordFailure() {
		t.Fatal("should not trip immediately after a reset")
	}
}

func TestFailureWindowPrunesOldFailures(t *testing.T) {
	fw := NewFailureWindow(2, 10*time.Millisecond)
	fw.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if fw.RecordFailure() {
		t.Fatal("old failure should have aged out of the window")
	}
}
