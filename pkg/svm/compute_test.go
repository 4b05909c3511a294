package svm

import (
	"errors"
	"testing"
)

func TestComputeMeterConsume(t *testing.T) {
	meter := NewComputeMeter(1000)

	if err := meter.Consume(300); err != nil {
		t.Fatalf("consume within limit: %v", err)
	}
	if got := meter.Remaining(); got != 700 {
		t.Errorf("remaining = %d, want 700", got)
	}
	if got := meter.Consumed(); got != 300 {
		t.Errorf("consumed = %d, want 300", got)
	}
	if meter.IsExhausted() {
		t.Error("meter exhausted after partial consumption")
	}
}

func TestComputeMeterMonotonic(t *testing.T) {
	meter := NewComputeMeter(1000)

	prev := uint64(0)
	for i := 0; i < 20; i++ {
		meter.Consume(90)
		if meter.Consumed() < prev {
			t.Fatalf("consumed decreased: %d < %d", meter.Consumed(), prev)
		}
		prev = meter.Consumed()
	}
	if meter.Consumed() != meter.Limit() {
		t.Errorf("consumed = %d after exhaustion, want limit %d", meter.Consumed(), meter.Limit())
	}
}

func TestComputeMeterExhaustion(t *testing.T) {
	meter := NewComputeMeter(100)

	if err := meter.Consume(101); !errors.Is(err, ErrComputeExceeded) {
		t.Fatalf("overrun error = %v, want ErrComputeExceeded", err)
	}
	// The deficit is charged: consumption halts at the limit, never above.
	if got := meter.Consumed(); got != 100 {
		t.Errorf("consumed = %d, want 100", got)
	}
	if !meter.IsExhausted() {
		t.Error("meter not exhausted after overrun")
	}
	if err := meter.Consume(1); !errors.Is(err, ErrComputeExceeded) {
		t.Errorf("consume after exhaustion = %v, want ErrComputeExceeded", err)
	}
}

func TestComputeMeterLimitCap(t *testing.T) {
	meter := NewComputeMeter(CUMax + 1)
	if got := meter.Limit(); got != CUMax {
		t.Errorf("limit = %d, want cap %d", got, CUMax)
	}
}

func TestComputeMeterZeroCost(t *testing.T) {
	meter := NewComputeMeter(10)
	meter.Consume(10)
	if err := meter.Consume(0); err != nil {
		t.Errorf("zero-cost consume at exact limit: %v", err)
	}
}
