package engine_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/seantiz/ragserve/internal/engine"
	"github.com/seantiz/ragserve/internal/model"
)

func TestJobBrokerSingleSubscriber(t *testing.T) {
	b := engine.NewJobBroker()
	ch, unsub := b.Subscribe("j1")
	defer unsub()

	b.Publish(model.JobEvent{JobID: "j1", Status: model.StatusRunning})
	b.Publish(model.JobEvent{JobID: "j1", Status: model.StatusCompleted, Result: &model.Answer{Text: "ok"}})
	b.Close("j1")

	var got []string
	for ev := range ch {
		got = append(got, ev.Status)
	}
	if len(got) != 2 || got[0] != model.StatusRunning || got[1] != model.StatusCompleted {
		t.Errorf("got %v, want [running completed]", got)
	}
}

func TestJobBrokerMultipleSubscribers(t *testing.T) {
	b := engine.NewJobBroker()
	ch1, unsub1 := b.Subscribe("j1")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("j1")
	defer unsub2()

	b.Publish(model.JobEvent{JobID: "j1", Status: model.StatusFailed, Error: "boom"})
	b.Close("j1")

	for i, ch := range []<-chan model.JobEvent{ch1, ch2} {
		var n int
		for ev := range ch {
			n++
			if ev.Error != "boom" {
				t.Errorf("subscriber %d error = %q", i, ev.Error)
			}
		}
		if n != 1 {
			t.Errorf("subscriber %d got %d events, want 1", i, n)
		}
	}
}

func TestJobBrokerTopicsAreIsolated(t *testing.T) {
	b := engine.NewJobBroker()
	ch, unsub := b.Subscribe("j1")
	defer unsub()

	b.Publish(model.JobEvent{JobID: "j2", Status: model.StatusRunning})
	b.Close("j1")

	if _, ok := <-ch; ok {
		t.Error("received an event published for another job")
	}
}

func TestJobBrokerLateSubscriberGetsClosed(t *testing.T) {
	b := engine.NewJobBroker()
	b.Close("j1")

	ch, unsub := b.Subscribe("j1")
	defer unsub()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("late subscriber blocked")
	}
}

func TestJobBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := engine.NewJobBroker()
	ch, unsub := b.Subscribe("j1")
	unsub()

	b.Publish(model.JobEvent{JobID: "j1", Status: model.StatusRunning})

	select {
	case ev := <-ch:
		t.Errorf("received %+v after unsubscribe", ev)
	default:
	}
}

func TestJobBrokerDropsForSlowSubscriber(t *testing.T) {
	b := engine.NewJobBroker()
	_, unsub := b.Subscribe("j1")
	defer unsub()

	done := make(chan struct{})
	go func() {
		for range 100 {
			b.Publish(model.JobEvent{JobID: "j1", Status: model.StatusRunning})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestJobBrokerPruneClosed(t *testing.T) {
	b := engine.NewJobBroker()
	b.Close("old")
	_, unsub := b.Subscribe("live")
	defer unsub()

	if n := b.PruneClosed(time.Now().Add(-time.Hour)); n != 0 {
		t.Errorf("pruned %d markers newer than the cutoff", n)
	}
	if n := b.PruneClosed(time.Now().Add(time.Second)); n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if b.Len() != 1 {
		t.Errorf("len = %d, want only the open topic", b.Len())
	}
}

func TestJobBrokerUnsubscribeDropsOpenTopic(t *testing.T) {
	b := engine.NewJobBroker()
	for i := range 1000 {
		_, unsub := b.Subscribe(fmt.Sprintf("unknown-%d", i))
		unsub()
	}
	b.PruneClosed(time.Now().Add(time.Hour))
	if b.Len() != 0 {
		t.Errorf("len = %d, want 0 after every subscriber left", b.Len())
	}
}

func TestJobBrokerUnsubscribeKeepsSharedTopic(t *testing.T) {
	b := engine.NewJobBroker()
	_, unsub1 := b.Subscribe("j1")
	ch2, unsub2 := b.Subscribe("j1")
	defer unsub2()

	unsub1()
	if b.Len() != 1 {
		t.Fatalf("len = %d, want the topic kept for the remaining subscriber", b.Len())
	}

	b.Publish(model.JobEvent{JobID: "j1", Status: model.StatusRunning})
	b.Close("j1")
	var n int
	for range ch2 {
		n++
	}
	if n != 1 {
		t.Errorf("remaining subscriber got %d events, want 1", n)
	}
}
