package tasking

import (
	"context"
	"testing"
	"time"
)

func TestNewRetention_Validation(t *testing.T) {
	stores := openTestStores(t)

	if _, err := NewRetention(stores.Statuses, "0 3 * * *", 0); err == nil {
		t.Error("zero max age should be rejected")
	}
	if _, err := NewRetention(stores.Statuses, "every day", time.Hour); err == nil {
		t.Error("malformed schedule should be rejected")
	}
	// Seconds fields are not part of the accepted format.
	if _, err := NewRetention(stores.Statuses, "0 0 3 * * *", time.Hour); err == nil {
		t.Error("six-field schedule should be rejected")
	}
}

func TestRetention_Next(t *testing.T) {
	stores := openTestStores(t)
	r, err := NewRetention(stores.Statuses, "0 3 * * *", 24*time.Hour)
	if err != nil {
		t.Fatalf("NewRetention() error = %v", err)
	}

	// Schedules are evaluated in the local zone.
	got := r.Next(t0).In(time.Local)
	if !got.After(t0) || got.Sub(t0) > 24*time.Hour {
		t.Errorf("Next(%v) = %v, want within the next day", t0, got)
	}
	if got.Hour() != 3 || got.Minute() != 0 {
		t.Errorf("Next(%v) = %v, want 03:00", t0, got)
	}
}

func TestRetention_RunOnce(t *testing.T) {
	stores := openTestStores(t)
	_, cmdID := seedStreamAndCommand(t, stores, "")

	old := testStatus(cmdID, StatusAccepted)
	old.ReportTime = at(0)
	mustAddStatus(t, stores.Statuses, old)

	recent := testStatus(cmdID, StatusCompleted)
	recent.ReportTime = at(48)
	keep := mustAddStatus(t, stores.Statuses, recent)

	r, err := NewRetention(stores.Statuses, "0 3 * * *", 24*time.Hour)
	if err != nil {
		t.Fatalf("NewRetention() error = %v", err)
	}
	logger := &recordingLogger{}
	r.SetLogger(logger)
	r.now = func() time.Time { return at(49) }

	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if n != 1 {
		t.Errorf("RunOnce() removed %d, want 1", n)
	}

	keys, err := stores.Statuses.KeySet(context.Background())
	if err != nil {
		t.Fatalf("KeySet() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != keep {
		t.Errorf("remaining keys = %v, want [%v]", keys, keep)
	}
	if len(logger.infos) != 1 {
		t.Errorf("infos = %v", logger.infos)
	}
}

func TestRetention_StartStop(t *testing.T) {
	stores := openTestStores(t)
	r, err := NewRetention(stores.Statuses, "*/5 * * * *", time.Hour)
	if err != nil {
		t.Fatalf("NewRetention() error = %v", err)
	}

	// Stop before Start is a no-op.
	r.Stop()

	r.Start(context.Background())
	first := r.cron
	r.Start(context.Background())
	if r.cron != first {
		t.Error("second Start should not replace the running schedule")
	}
	if len(first.Entries()) != 1 {
		t.Errorf("scheduled %d entries, want 1", len(first.Entries()))
	}

	r.Stop()
	if r.cron != nil {
		t.Error("Stop should clear the schedule")
	}
	r.Stop()
}
