package bus

import (
	"sync"
	"testing"
	"time"
)

func drain(sub *Subscription) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-sub.Ch():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestBus_DeliversToMatchingPrefixOnly(t *testing.T) {
	b := New()
	projects := b.Subscribe(TopicProjectPrefix)
	jobs := b.Subscribe(TopicJobStateChanged)
	all := b.Subscribe("")

	if n := b.Publish(ProjectTopic("p1"), "memo_created"); n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	if n := b.Publish(TopicJobStateChanged, JobStateChangedEvent{JobID: "j1", NewStatus: "QUEUED"}); n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}

	got := drain(projects)
	if len(got) != 1 || got[0].Topic != "project.p1.events" || got[0].Payload != "memo_created" {
		t.Fatalf("project events = %+v", got)
	}
	if got[0].PublishedAt.IsZero() {
		t.Fatal("PublishedAt not stamped")
	}
	if got := drain(jobs); len(got) != 1 || got[0].Payload.(JobStateChangedEvent).JobID != "j1" {
		t.Fatalf("job events = %+v", got)
	}
	if got := drain(all); len(got) != 2 {
		t.Fatalf("wildcard received %d events, want 2", len(got))
	}
}

func TestBus_FullBufferCountsDrops(t *testing.T) {
	b := New()
	sub := b.SubscribeSize("job.", 3)

	for i := 0; i < 5; i++ {
		b.Publish(TopicJobStateChanged, i)
	}
	if got := drain(sub); len(got) != 3 || got[0].Payload != 0 {
		t.Fatalf("received %+v", got)
	}
	if sub.Dropped() != 2 {
		t.Fatalf("dropped = %d, want 2", sub.Dropped())
	}
}

func TestBus_UnsubscribeClosesOnce(t *testing.T) {
	b := New()
	sub := b.Subscribe("project.")
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	b.Unsubscribe(nil)

	if b.SubscriberCount() != 0 {
		t.Fatalf("count = %d", b.SubscriberCount())
	}
	if _, ok := <-sub.Ch(); ok {
		t.Fatal("expected closed channel")
	}
	if n := b.Publish(ProjectTopic("p1"), "x"); n != 0 {
		t.Fatalf("delivered to a removed subscriber: %d", n)
	}
}

func TestBus_Close(t *testing.T) {
	b := New()
	a := b.Subscribe("")
	c := b.Subscribe("project.")
	b.Close()
	b.Close()

	for _, sub := range []*Subscription{a, c} {
		select {
		case _, ok := <-sub.Ch():
			if ok {
				t.Fatal("expected closed channel")
			}
		case <-time.After(time.Second):
			t.Fatal("channel not closed")
		}
	}
	if n := b.Publish(ProjectTopic("p1"), "late"); n != 0 {
		t.Fatalf("publish after close delivered %d", n)
	}
	late := b.Subscribe("")
	if _, ok := <-late.Ch(); ok {
		t.Fatal("subscription on closed bus should be closed")
	}
	b.Unsubscribe(late)
}

func TestBus_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := New()
	sub := b.SubscribeSize("", 1000)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				b.Publish(ProjectTopic("p"), id*100+i)
			}
		}(g)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			s := b.Subscribe("project.")
			b.Unsubscribe(s)
		}
	}()
	wg.Wait()

	if got := len(drain(sub)); got != 200 {
		t.Fatalf("received %d events, want 200", got)
	}
}
