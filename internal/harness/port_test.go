package harness

import (
	"errors"
	"testing"
)

func TestFreePort(t *testing.T) {
	a, err := FreePort()
	if err != nil {
		t.Fatal(err)
	}
	if a <= 0 || a > 65535 {
		t.Fatalf("FreePort() = %d, want a valid TCP port", a)
	}
}

func TestPortAllocator_NeverRepeats(t *testing.T) {
	seq := []int{4000, 4000, 4000, 4001}
	a := NewPortAllocator()
	a.probe = func() (int, error) {
		p := seq[0]
		seq = seq[1:]
		return p, nil
	}

	first, err := a.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	second, err := a.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if first != 4000 || second != 4001 {
		t.Fatalf("Allocate() = %d, %d; want 4000, 4001", first, second)
	}
	if a.Issued() != 2 {
		t.Errorf("Issued() = %d, want 2", a.Issued())
	}
}

func TestPortAllocator_RealPortsDiffer(t *testing.T) {
	a := NewPortAllocator()
	p1, err := a.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	p2, err := a.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if p1 == 0 || p2 == 0 || p1 == p2 {
		t.Fatalf("Allocate() = %d, %d; want two distinct non-zero ports", p1, p2)
	}
}

func TestPortAllocator_Errors(t *testing.T) {
	t.Run("probe failure is a setup error", func(t *testing.T) {
		a := NewPortAllocator()
		a.probe = func() (int, error) { return 0, errors.New("too many open files") }
		if _, err := a.Allocate(); !errors.Is(err, ErrSetup) {
			t.Fatalf("expected ErrSetup, got %v", err)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		a := NewPortAllocator()
		a.probe = func() (int, error) { return 5000, nil }
		if _, err := a.Allocate(); err != nil {
			t.Fatal(err)
		}
		if _, err := a.Allocate(); !errors.Is(err, ErrSetup) {
			t.Fatalf("expected ErrSetup after exhausting attempts, got %v", err)
		}
	})
}
