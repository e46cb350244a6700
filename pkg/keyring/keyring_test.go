package keyring

import (
	"errors"
	"testing"
)

func TestNewRequiresKeys(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrNoKeys) {
		t.Errorf("expected ErrNoKeys, got %v", err)
	}
}

func TestAt(t *testing.T) {
	r, err := New([]string{"key-a", "key-b"})
	if err != nil {
		t.Fatal(err)
	}

	k, err := r.At(1)
	if err != nil {
		t.Fatal(err)
	}
	if k != "key-b" {
		t.Errorf("expected key-b, got %s", k)
	}
}

func TestAtOutOfRange(t *testing.T) {
	r, _ := New([]string{"key-a"})

	if _, err := r.At(1); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted past last key, got %v", err)
	}
	if _, err := r.At(-1); !errors.Is(err, ErrExhausted) {
		t.Errorf("expected ErrExhausted for negative index, got %v", err)
	}
}

func TestRingIsImmutable(t *testing.T) {
	keys := []string{"key-a"}
	r, _ := New(keys)
	keys[0] = "mutated"

	k, _ := r.At(0)
	if k != "key-a" {
		t.Error("ring must copy the key slice")
	}
}
