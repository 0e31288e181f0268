package ratelimit

import (
	"sync"
	"testing"
)

func TestAllow_WithinBurst(t *testing.T) {
	l := New(1, 5)

	for i := 0; i < 5; i++ {
		if !l.Allow("client-a") {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}
}

func TestAllow_ExceedingBurst(t *testing.T) {
	l := New(0.001, 3) // effectively no refill during the test

	for i := 0; i < 3; i++ {
		if !l.Allow("client-a") {
			t.Fatalf("request %d within burst should be allowed", i)
		}
	}
	if l.Allow("client-a") {
		t.Error("request beyond burst should be refused")
	}
}

func TestAllow_IndependentKeys(t *testing.T) {
	l := New(0.001, 1)

	if !l.Allow("client-a") {
		t.Fatal("first request for client-a should be allowed")
	}
	if l.Allow("client-a") {
		t.Error("second request for client-a should be refused")
	}
	if !l.Allow("client-b") {
		t.Error("client-b has its own bucket and should be allowed")
	}
	if l.Len() != 2 {
		t.Errorf("expected 2 tracked buckets, got %d", l.Len())
	}
}

func TestAllow_Concurrent(t *testing.T) {
	l := New(1000, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				l.Allow("shared")
			}
		}(i)
	}
	wg.Wait()

	if l.Len() != 1 {
		t.Errorf("expected 1 bucket, got %d", l.Len())
	}
}
