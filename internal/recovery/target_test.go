package recovery

import (
	"testing"
	"time"

	errs "walvault/internal/errors"
)

func TestTargetValidate(t *testing.T) {
	valid := []Target{
		Latest(),
		AtTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Backup("20260301T120000.000"),
	}
	for _, target := range valid {
		if err := target.Validate(); err != nil {
			t.Errorf("Validate(%s) = %v, want nil", target, err)
		}
	}

	invalid := []Target{
		{Kind: TargetTimestamp},
		{Kind: TargetNamed},
		{Kind: TargetKind(99)},
	}
	for _, target := range invalid {
		err := target.Validate()
		if errs.GetCode(err) != errs.ErrCodeInvalidTarget {
			t.Errorf("Validate(%+v) = %v, want invalid-target", target, err)
		}
	}
}

func TestTargetString(t *testing.T) {
	if got := Latest().String(); got != "latest" {
		t.Errorf("Latest().String() = %q", got)
	}
	at := AtTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if got := at.String(); got != "time 2026-03-01T12:00:00Z" {
		t.Errorf("AtTime().String() = %q", got)
	}
	if got := Backup("abc").String(); got != "backup abc" {
		t.Errorf("Backup().String() = %q", got)
	}
}
