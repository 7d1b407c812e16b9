package audio

import (
	"bytes"
	"testing"
	"time"
)

func TestRingBuffer_WriteThenReadAll(t *testing.T) {
	r := NewRing(16)
	r.Write([]byte{1, 2, 3, 4})

	got := r.ReadAll()
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("ReadAll() = %v, want [1 2 3 4]", got)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() after ReadAll = %d, want 0", r.Len())
	}
}

func TestRingBuffer_OverwritesOldest(t *testing.T) {
	r := NewRing(5)
	r.Write([]byte{1, 2, 3, 4, 5})
	r.Write([]byte{6, 7, 8})

	got := r.ReadAll()
	if !bytes.Equal(got, []byte{4, 5, 6, 7, 8}) {
		t.Fatalf("ReadAll() = %v, want [4 5 6 7 8]", got)
	}
}

func TestRingBuffer_KeepsLastCapacityBytes(t *testing.T) {
	// Regardless of write sizes, the ring must always hold the most recent
	// capacity bytes in original order.
	const capacity = 64
	r := NewRing(capacity)

	var all []byte
	b := byte(0)
	for _, size := range []int{1, 7, 13, 64, 200, 3, 31} {
		chunk := make([]byte, size)
		for i := range chunk {
			chunk[i] = b
			b++
		}
		all = append(all, chunk...)
		r.Write(chunk)
	}

	got := r.ReadAll()
	want := all[len(all)-capacity:]
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadAll() = %v, want last %d written bytes %v", got, capacity, want)
	}
}

func TestRingBuffer_WriteLargerThanCapacity(t *testing.T) {
	r := NewRing(4)
	r.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9})

	got := r.ReadAll()
	if !bytes.Equal(got, []byte{6, 7, 8, 9}) {
		t.Fatalf("ReadAll() = %v, want [6 7 8 9]", got)
	}
}

func TestRingBuffer_TryReadPartial(t *testing.T) {
	r := NewRing(8)
	r.Write([]byte{1, 2, 3, 4, 5})

	dst := make([]byte, 3)
	n, ok := r.TryRead(dst)
	if !ok || n != 3 {
		t.Fatalf("TryRead = (%d, %v), want (3, true)", n, ok)
	}
	if !bytes.Equal(dst, []byte{1, 2, 3}) {
		t.Fatalf("TryRead dst = %v, want [1 2 3]", dst)
	}

	// Remainder must still be in place.
	rest := r.ReadAll()
	if !bytes.Equal(rest, []byte{4, 5}) {
		t.Fatalf("remainder = %v, want [4 5]", rest)
	}
}

func TestRingBuffer_TryReadEmpty(t *testing.T) {
	r := NewRing(8)
	n, ok := r.TryRead(make([]byte, 4))
	if ok || n != 0 {
		t.Fatalf("TryRead on empty ring = (%d, %v), want (0, false)", n, ok)
	}
}

func TestRingBuffer_PeekDoesNotConsume(t *testing.T) {
	r := NewRing(8)
	r.Write([]byte{9, 8, 7})

	dst := make([]byte, 2)
	n, ok := r.Peek(dst)
	if !ok || n != 2 {
		t.Fatalf("Peek = (%d, %v), want (2, true)", n, ok)
	}
	if !bytes.Equal(dst, []byte{9, 8}) {
		t.Fatalf("Peek dst = %v, want [9 8]", dst)
	}
	if r.Len() != 3 {
		t.Fatalf("Len() after Peek = %d, want 3", r.Len())
	}
}

func TestRingBuffer_SkipAndWrap(t *testing.T) {
	r := NewRing(6)
	r.Write([]byte{1, 2, 3, 4, 5, 6})
	r.Skip(4)
	r.Write([]byte{7, 8, 9})

	got := r.ReadAll()
	if !bytes.Equal(got, []byte{5, 6, 7, 8, 9}) {
		t.Fatalf("ReadAll() = %v, want [5 6 7 8 9]", got)
	}
}

func TestRingBuffer_SkipPastEnd(t *testing.T) {
	r := NewRing(4)
	r.Write([]byte{1, 2})
	r.Skip(10)
	if r.Len() != 0 {
		t.Fatalf("Len() after over-skip = %d, want 0", r.Len())
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	r := NewRing(4)
	r.Write([]byte{1, 2, 3})
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", r.Len())
	}
	if got := r.ReadAll(); got != nil {
		t.Fatalf("ReadAll() after Clear = %v, want nil", got)
	}
}

func TestRingBuffer_ReadInto(t *testing.T) {
	r := NewRing(8)
	r.Write([]byte{1, 2, 3, 4})

	scratch := make([]byte, 8)
	n := r.ReadInto(scratch)
	if n != 4 {
		t.Fatalf("ReadInto = %d, want 4", n)
	}
	if !bytes.Equal(scratch[:n], []byte{1, 2, 3, 4}) {
		t.Fatalf("ReadInto scratch = %v, want [1 2 3 4]", scratch[:n])
	}
	if r.Len() != 0 {
		t.Fatalf("Len() after full ReadInto = %d, want 0", r.Len())
	}
}

func TestNewRingForDuration(t *testing.T) {
	// 100 ms of 16 kHz mono 16-bit PCM = 3200 bytes.
	r := NewRingForDuration(100*time.Millisecond, 16000, 1, 16)
	if r.Cap() != 3200 {
		t.Fatalf("Cap() = %d, want 3200", r.Cap())
	}
}

func TestRingBuffer_ConcurrentWriteRead(t *testing.T) {
	r := NewRing(1024)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			r.Write([]byte{byte(i), byte(i >> 8)})
		}
	}()

	for {
		select {
		case <-done:
			r.ReadAll()
			return
		default:
			dst := make([]byte, 64)
			r.TryRead(dst)
		}
	}
}
