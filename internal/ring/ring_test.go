package ring

import "testing"

func TestPushBackOverrun(t *testing.T) {
	b := New[int](3)
	for i := 0; i < 3; i++ {
		if !b.PushBack(i) {
			t.Fatalf("push %d should have succeeded", i)
		}
	}
	if b.PushBack(99) {
		t.Fatal("push into full buffer should fail")
	}
	for i := 0; i < 3; i++ {
		v, ok := b.PopFront()
		if !ok || v != i {
			t.Fatalf("expected %d, got %d ok=%v", i, v, ok)
		}
	}
	if _, ok := b.PopFront(); ok {
		t.Fatal("pop from empty buffer should fail")
	}
}

func TestPushFrontPriority(t *testing.T) {
	b := New[int](4)
	b.PushBack(1)
	b.PushBack(2)
	b.PushFront(0)
	v, _ := b.PopFront()
	if v != 0 {
		t.Fatalf("expected priority element first, got %d", v)
	}
	v, _ = b.PopFront()
	if v != 1 {
		t.Fatalf("expected 1, got %d", v)
	}
}

func TestSpaceOccupied(t *testing.T) {
	b := New[int](5)
	if b.Space() != 5 {
		t.Fatalf("expected space 5, got %d", b.Space())
	}
	b.PushBack(1)
	b.PushBack(2)
	if b.Occupied() != 2 {
		t.Fatalf("expected occupied 2, got %d", b.Occupied())
	}
	if b.Space() != 3 {
		t.Fatalf("expected space 3, got %d", b.Space())
	}
}
