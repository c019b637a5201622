package bus

import (
	"sync"
	"testing"
)

func TestPublishFIFOWithinTopic(t *testing.T) {
	b := New()
	var got []int
	b.Subscribe("tick:SPY", func(ev any) {
		got = append(got, ev.(int))
	})
	for i := 0; i < 10; i++ {
		b.Publish("tick:SPY", i)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("delivery out of order at %d: %d", i, v)
		}
	}
}

func TestMultipleSubscribers(t *testing.T) {
	b := New()
	var a, c int
	b.Subscribe("bar:new:SPY:1m", func(any) { a++ })
	b.Subscribe("bar:new:SPY:1m", func(any) { c++ })
	b.Publish("bar:new:SPY:1m", struct{}{})
	if a != 1 || c != 1 {
		t.Fatalf("deliveries = %d, %d", a, c)
	}
}

func TestPanickingSubscriberDoesNotStopDelivery(t *testing.T) {
	b := New()
	delivered := false
	b.Subscribe("signal:new", func(any) { panic("boom") })
	b.Subscribe("signal:new", func(any) { delivered = true })
	b.Publish("signal:new", struct{}{})
	if !delivered {
		t.Fatal("panic in one listener blocked the others")
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := New()
	n := 0
	sub := b.Subscribe("microbar:SPY", func(any) { n++ })
	sub.Unsubscribe()
	sub.Unsubscribe()
	b.Publish("microbar:SPY", struct{}{})
	if n != 0 {
		t.Fatalf("delivered %d events after unsubscribe", n)
	}
	if b.SubscriberCount("microbar:SPY") != 0 {
		t.Fatal("subscriber list not cleaned up")
	}
}

func TestUnsubscribeDuringEmission(t *testing.T) {
	b := New()
	var later *Subscription
	laterCalls := 0

	// The first listener removes the second mid-emission; the second must
	// not observe this event, the third still must.
	thirdCalls := 0
	b.Subscribe("tick:SPY", func(any) { later.Unsubscribe() })
	later = b.Subscribe("tick:SPY", func(any) { laterCalls++ })
	b.Subscribe("tick:SPY", func(any) { thirdCalls++ })

	b.Publish("tick:SPY", struct{}{})
	if laterCalls != 0 {
		t.Fatalf("removed subscriber still saw %d events", laterCalls)
	}
	if thirdCalls != 1 {
		t.Fatalf("third subscriber saw %d events, want 1", thirdCalls)
	}
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	b := New()
	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := b.Subscribe("tick:SPY", func(any) {
				mu.Lock()
				count++
				mu.Unlock()
			})
			for j := 0; j < 100; j++ {
				b.Publish("tick:SPY", j)
			}
			sub.Unsubscribe()
		}()
	}
	wg.Wait()

	if b.SubscriberCount("tick:SPY") != 0 {
		t.Fatal("dangling subscriptions after concurrent churn")
	}
}

func TestTopicNames(t *testing.T) {
	if TopicTick("SPY") != "tick:SPY" {
		t.Fatal(TopicTick("SPY"))
	}
	if TopicBarNew("SPY", "5m") != "bar:new:SPY:5m" {
		t.Fatal(TopicBarNew("SPY", "5m"))
	}
	if TopicMicroBar("QQQ") != "microbar:QQQ" {
		t.Fatal(TopicMicroBar("QQQ"))
	}
}
