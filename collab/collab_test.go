package collab_test

import (
	"bytes"
	"testing"

	"github.com/wolfSSL/wolfboot-go/auditlog"
	"github.com/wolfSSL/wolfboot-go/collab"
)

func TestSoftwareTPMExtendChangesPCR(t *testing.T) {
	tpm := collab.NewSoftwareTPM()
	before, err := tpm.PCRValue(0)
	if err != nil {
		t.Fatalf("PCRValue: %v", err)
	}
	if err := tpm.PCRExtend(0, auditlog.Event{PartitionID: "boot", Version: 1, Outcome: "OK"}); err != nil {
		t.Fatalf("PCRExtend: %v", err)
	}
	after, err := tpm.PCRValue(0)
	if err != nil {
		t.Fatalf("PCRValue: %v", err)
	}
	if bytes.Equal(before, after) {
		t.Errorf("PCR value unchanged after extend")
	}
}

func TestSoftwareTPMExtendIsOrderSensitive(t *testing.T) {
	a := collab.NewSoftwareTPM()
	b := collab.NewSoftwareTPM()
	e1 := auditlog.Event{PartitionID: "boot", Version: 1, Outcome: "OK"}
	e2 := auditlog.Event{PartitionID: "update", Version: 2, Outcome: "OK"}

	a.PCRExtend(0, e1)
	a.PCRExtend(0, e2)
	b.PCRExtend(0, e2)
	b.PCRExtend(0, e1)

	va, _ := a.PCRValue(0)
	vb, _ := b.PCRValue(0)
	if bytes.Equal(va, vb) {
		t.Errorf("PCR values equal despite different extend order")
	}
}

func TestSealUnsealRoundTrip(t *testing.T) {
	tpm := collab.NewSoftwareTPM()
	tpm.PCRExtend(0, auditlog.Event{PartitionID: "boot", Version: 1, Outcome: "OK"})

	secret := []byte("external flash cipher key")
	sealed, err := tpm.Seal(0, secret)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	got, err := tpm.Unseal(0, sealed)
	if err != nil {
		t.Fatalf("Unseal: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Errorf("Unseal() = %q, want %q", got, secret)
	}
}

func TestUnsealFailsAfterPCRChanges(t *testing.T) {
	tpm := collab.NewSoftwareTPM()
	sealed, err := tpm.Seal(0, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := tpm.PCRExtend(0, auditlog.Event{PartitionID: "update", Version: 9, Outcome: "OK"}); err != nil {
		t.Fatalf("PCRExtend: %v", err)
	}
	if _, err := tpm.Unseal(0, sealed); err == nil {
		t.Fatalf("expected Unseal to fail after PCR changed")
	}
}

func TestNoopTPMAlwaysSucceeds(t *testing.T) {
	var tpm collab.TPM = collab.NoopTPM{}
	if err := tpm.PCRExtend(0, auditlog.Event{}); err != nil {
		t.Errorf("PCRExtend: %v", err)
	}
	if _, err := tpm.Unseal(0, nil); err != nil {
		t.Errorf("Unseal: %v", err)
	}
}
