package armor_test

import (
	"errors"
	"testing"

	"github.com/wolfSSL/wolfboot-go/armor"
)

func withPanicTrap(t *testing.T) *bool {
	t.Helper()
	tripped := false
	prev := armor.OnPanic
	armor.OnPanic = func() { tripped = true }
	t.Cleanup(func() { armor.OnPanic = prev })
	return &tripped
}

func TestCheckAcceptsConsistentTrue(t *testing.T) {
	tripped := withPanicTrap(t)
	if !armor.Check(armor.Set(true)) {
		t.Errorf("Check() = false, want true")
	}
	if *tripped {
		t.Errorf("Panic tripped on a consistent Flags value")
	}
}

func TestCheckAcceptsConsistentFalse(t *testing.T) {
	tripped := withPanicTrap(t)
	if armor.Check(armor.Set(false)) {
		t.Errorf("Check() = true, want false")
	}
	if *tripped {
		t.Errorf("Panic tripped on a consistent Flags value")
	}
}

func TestDoubleReadAgreement(t *testing.T) {
	tripped := withPanicTrap(t)
	calls := 0
	v, err := armor.DoubleRead(func() (uint32, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("DoubleRead: %v", err)
	}
	if v != 42 {
		t.Errorf("DoubleRead() = %d, want 42", v)
	}
	if calls != 2 {
		t.Errorf("read function called %d times, want 2", calls)
	}
	if *tripped {
		t.Errorf("Panic tripped on agreeing reads")
	}
}

func TestDoubleReadDisagreementPanics(t *testing.T) {
	tripped := withPanicTrap(t)
	n := 0
	_, _ = armor.DoubleRead(func() (uint32, error) {
		n++
		return uint32(n), nil // 1, then 2: disagreement
	})
	if !*tripped {
		t.Errorf("expected Panic on disagreeing double-read")
	}
}

func TestDoubleReadPropagatesError(t *testing.T) {
	tripped := withPanicTrap(t)
	wantErr := errors.New("io error")
	_, err := armor.DoubleRead(func() (uint32, error) {
		return 0, wantErr
	})
	if err != wantErr {
		t.Fatalf("DoubleRead() error = %v, want %v", err, wantErr)
	}
	if *tripped {
		t.Errorf("Panic should not trip on a plain I/O error")
	}
}
