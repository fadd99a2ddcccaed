package common

import (
	"testing"

	"github.com/pkg/errors"
)

func TestIsStore(t *testing.T) {
	err := errors.Wrap(NewStoreErr("Ledger", KeyNotFound, "0"), "loading replica")

	if !IsStore(err, KeyNotFound) {
		t.Fatalf("wrapped error should be KeyNotFound")
	}
	if IsStore(err, Corrupted) {
		t.Fatalf("wrapped error should not be Corrupted")
	}
	if IsStore(errors.New("plain"), KeyNotFound) {
		t.Fatalf("plain errors are not store errors")
	}

	if m := NewStoreErr("Ledger", Corrupted, "1").Error(); m != "Ledger 1: Corrupted" {
		t.Fatalf("message should be 'Ledger 1: Corrupted', not %q", m)
	}
}
