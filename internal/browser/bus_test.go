package browser_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/pagerunner/internal/browser"
)

func TestBusFiltersByKind(t *testing.T) {
	bus := browser.NewBus()
	var dialogs, all int32
	bus.Subscribe(func(browser.Event) { atomic.AddInt32(&dialogs, 1) }, browser.EventDialog)
	bus.Subscribe(func(browser.Event) { atomic.AddInt32(&all, 1) })

	bus.Publish(browser.Event{Kind: browser.EventDialog})
	bus.Publish(browser.Event{Kind: browser.EventLoad})

	if got := atomic.LoadInt32(&dialogs); got != 1 {
		t.Fatalf("expected 1 dialog delivery, got %d", got)
	}
	if got := atomic.LoadInt32(&all); got != 2 {
		t.Fatalf("expected 2 deliveries to wildcard subscriber, got %d", got)
	}
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := browser.NewBus()
	var calls int32
	unsubscribe := bus.Subscribe(func(browser.Event) { atomic.AddInt32(&calls, 1) }, browser.EventNavigation)
	if bus.Len() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.Len())
	}

	unsubscribe()
	unsubscribe()
	bus.Publish(browser.Event{Kind: browser.EventNavigation})

	if calls != 0 {
		t.Fatalf("handler invoked after unsubscribe")
	}
	if bus.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", bus.Len())
	}
}

func TestBusHandlerMayUnsubscribeItself(t *testing.T) {
	bus := browser.NewBus()
	var unsubscribe func()
	var calls int32
	unsubscribe = bus.Subscribe(func(browser.Event) {
		atomic.AddInt32(&calls, 1)
		unsubscribe()
	})

	bus.Publish(browser.Event{Kind: browser.EventLoad})
	bus.Publish(browser.Event{Kind: browser.EventLoad})

	if calls != 1 {
		t.Fatalf("expected exactly one delivery, got %d", calls)
	}
}

func TestBusNoDeliveryPublishedAfterUnsubscribe(t *testing.T) {
	bus := browser.NewBus()
	var late int32
	unsubscribe := bus.Subscribe(func(ev browser.Event) {
		if ev.URL == "after" {
			atomic.AddInt32(&late, 1)
		}
	})

	var removed atomic.Bool
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				url := "before"
				if removed.Load() {
					url = "after"
				}
				bus.Publish(browser.Event{Kind: browser.EventRequest, URL: url})
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	unsubscribe()
	removed.Store(true)
	time.Sleep(5 * time.Millisecond)
	close(stop)
	wg.Wait()

	if got := atomic.LoadInt32(&late); got != 0 {
		t.Fatalf("%d events published after unsubscribe were delivered", got)
	}
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := browser.NewBus()
	var calls int64
	bus.Subscribe(func(browser.Event) { atomic.AddInt64(&calls, 1) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(browser.Event{Kind: browser.EventRequest})
			}
		}()
	}
	wg.Wait()

	if calls != 800 {
		t.Fatalf("expected 800 deliveries, got %d", calls)
	}
}

func TestLookupDevice(t *testing.T) {
	info, err := browser.LookupDevice("")
	if err != nil {
		t.Fatalf("LookupDevice(\"\") error = %v", err)
	}
	if info.Name != browser.DefaultDevice {
		t.Fatalf("expected default device, got %q", info.Name)
	}
	if info.Width != 1440 || info.Height != 900 {
		t.Fatalf("unexpected viewport %dx%d", info.Width, info.Height)
	}

	if _, err := browser.LookupDevice("chrome desktop small"); err != nil {
		t.Fatalf("case-insensitive lookup failed: %v", err)
	}
	if _, err := browser.LookupDevice("Nokia 3310"); err == nil {
		t.Fatalf("expected error for unknown device")
	}
}
