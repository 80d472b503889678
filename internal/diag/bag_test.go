package diag

import (
	"strings"
	"testing"
)

func TestBagLimit(t *testing.T) {
	b := NewBag(2)
	if !b.Add(Translatef(0, 0, CodeStackMismatch, "one")) {
		t.Fatal("first Add refused")
	}
	if !b.Add(Translatef(1, 0, CodeStackMismatch, "two")) {
		t.Fatal("second Add refused")
	}
	if b.Add(Translatef(2, 0, CodeStackMismatch, "three")) {
		t.Error("Add exceeded the limit")
	}
	if b.Len() != 2 {
		t.Errorf("Len = %d, want 2", b.Len())
	}
	if b.Add(nil) {
		t.Error("Add accepted nil")
	}
}

func TestBagUnlimited(t *testing.T) {
	b := NewBag(0)
	for i := 0; i < 100; i++ {
		if !b.Add(Internalf(0, "diag %d", i)) {
			t.Fatalf("Add %d refused with no limit", i)
		}
	}
	if b.Len() != 100 {
		t.Errorf("Len = %d, want 100", b.Len())
	}
}

func TestBagSortDeterministic(t *testing.T) {
	b := NewBag(0)
	b.Add(Translatef(3, 8, CodeStackMismatch, "late function"))
	b.Add(Codegenf(1, CodeFrameOverflow, "frame"))
	b.Add(Translatef(1, 4, CodeIndexOutOfRange, "index"))
	b.Add(Translatef(1, 2, CodeMalformedControl, "control"))
	b.Sort()

	items := b.Items()
	if items[0].Func != 1 || items[0].Offset != 2 {
		t.Errorf("first after sort: func %d offset %d", items[0].Func, items[0].Offset)
	}
	if items[1].Func != 1 || items[1].Offset != 4 {
		t.Errorf("second after sort: func %d offset %d", items[1].Func, items[1].Offset)
	}
	if items[3].Func != 3 {
		t.Errorf("last after sort: func %d", items[3].Func)
	}
}

func TestBagErr(t *testing.T) {
	b := NewBag(0)
	if b.Err() != nil {
		t.Fatal("empty bag produced an error")
	}

	b.Add(Translatef(2, 6, CodeStackMismatch, "operand stack underflow"))
	b.Add(Codegenf(0, CodeUnsupportedOperand, "bad operand"))
	err := b.Err()
	if err == nil {
		t.Fatal("Err() = nil with items collected")
	}
	msg := err.Error()
	if !strings.HasPrefix(msg, "module compilation failed (2 functions):") {
		t.Errorf("aggregate header missing: %q", msg)
	}
	for _, want := range []string{"operand stack underflow", "bad operand"} {
		if !strings.Contains(msg, want) {
			t.Errorf("aggregate drops %q: %q", want, msg)
		}
	}
}

func TestBagMergeGrowsLimit(t *testing.T) {
	a := NewBag(1)
	a.Add(Internalf(0, "a"))
	other := NewBag(0)
	other.Add(Internalf(1, "b"))
	other.Add(Internalf(2, "c"))

	a.Merge(other)
	if a.Len() != 3 {
		t.Errorf("Len after merge = %d, want 3", a.Len())
	}
}
