package engine

import (
	"sync"
	"time"

	"github.com/seantiz/ragserve/internal/model"
)

// subscriberBufferSize is the channel buffer for each job subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 16

// JobBroker fans job status changes out to live subscribers. It is safe for
// concurrent use.
//
// A finished job leaves a closed marker behind so a subscriber arriving late
// gets a closed channel instead of waiting forever. Markers are pruned on the
// same retention schedule as the jobs themselves.
type JobBroker struct {
	mu     sync.Mutex
	topics map[string]*jobTopic
}

type jobTopic struct {
	subs     map[int]chan model.JobEvent
	nextID   int
	closed   bool
	closedAt time.Time
}

// NewJobBroker creates an empty broker.
func NewJobBroker() *JobBroker {
	return &JobBroker{topics: make(map[string]*jobTopic)}
}

// Subscribe returns a channel of events for the job and an unsubscribe
// function. The channel is closed after the job's terminal event, or
// immediately if the job already finished. An open topic is dropped when its
// last subscriber leaves, so subscribing to ids that never finish here
// leaves nothing behind.
func (b *JobBroker) Subscribe(jobID string) (<-chan model.JobEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		t = &jobTopic{subs: make(map[int]chan model.JobEvent)}
		b.topics[jobID] = t
	}

	ch := make(chan model.JobEvent, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
		if !t.closed && len(t.subs) == 0 && b.topics[jobID] == t {
			delete(b.topics, jobID)
		}
	}
}

// Publish sends ev to every subscriber of ev.JobID without blocking.
func (b *JobBroker) Publish(ev model.JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[ev.JobID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; it can still poll for the final state.
		}
	}
}

// Close ends the job's stream. Current subscriber channels are closed and
// later Subscribe calls get a closed channel.
func (b *JobBroker) Close(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[jobID]
	if !ok {
		b.topics[jobID] = &jobTopic{subs: make(map[int]chan model.JobEvent), closed: true, closedAt: time.Now()}
		return
	}

	t.closed = true
	t.closedAt = time.Now()
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}

// PruneClosed drops the markers of jobs closed before cutoff and returns how
// many were removed.
func (b *JobBroker) PruneClosed(cutoff time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for id, t := range b.topics {
		if t.closed && t.closedAt.Before(cutoff) {
			delete(b.topics, id)
			n++
		}
	}
	return n
}

// Len reports how many topics the broker tracks.
func (b *JobBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}
