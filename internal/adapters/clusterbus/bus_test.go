package clusterbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestBus_Ping(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to run miniredis: %v", err)
	}
	defer mr.Close()

	bus := NewBus(mr.Addr(), "", 0)
	if err := bus.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestBus_PublishWakeNotifiesSubscriber(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to run miniredis: %v", err)
	}
	defer mr.Close()

	bus := NewBus(mr.Addr(), "", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	woke := make(chan struct{}, 1)
	go bus.Subscribe(ctx, func() {
		select {
		case woke <- struct{}{}:
		default:
		}
	})

	// Give the subscriber a moment to register with miniredis before publishing.
	time.Sleep(50 * time.Millisecond)
	if err := bus.PublishWake(context.Background()); err != nil {
		t.Fatalf("PublishWake failed: %v", err)
	}

	select {
	case <-woke:
	case <-ctx.Done():
		t.Fatal("timed out waiting for wake notification")
	}
}

func TestBus_AcquireResaltLock_SecondAttemptFails(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to run miniredis: %v", err)
	}
	defer mr.Close()

	bus := NewBus(mr.Addr(), "", 0)
	ctx := context.Background()

	ok, release, err := bus.AcquireResaltLock(ctx, "default", time.Minute)
	if err != nil {
		t.Fatalf("AcquireResaltLock failed: %v", err)
	}
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}

	ok2, _, err := bus.AcquireResaltLock(ctx, "default", time.Minute)
	if err != nil {
		t.Fatalf("AcquireResaltLock (second) failed: %v", err)
	}
	if ok2 {
		t.Fatal("expected second acquire to fail while lock is held")
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	ok3, _, err := bus.AcquireResaltLock(ctx, "default", time.Minute)
	if err != nil {
		t.Fatalf("AcquireResaltLock (third) failed: %v", err)
	}
	if !ok3 {
		t.Fatal("expected acquire to succeed again after release")
	}
}
