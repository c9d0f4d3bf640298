package service

import (
	"sync"
	"time"
)

const subscriberBuffer = 16

// ChangeEvent tells an in-process subscriber that the rules behind a button
// type changed and any cached decision for it should be re-evaluated.
type ChangeEvent struct {
	ButtonType string    `json:"button_type"`
	Operation  string    `json:"operation"`
	RuleID     string    `json:"rule_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// notifier fans ChangeEvents out to subscribers. Delivery is best effort: a
// subscriber that cannot drain its buffer misses events rather than blocking
// the write path.
type notifier struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[int]changeSubscriber
}

type changeSubscriber struct {
	buttonType string
	events     chan ChangeEvent
}

func newNotifier() *notifier {
	return &notifier{subscribers: make(map[int]changeSubscriber)}
}

// subscribe registers a subscriber. An empty buttonType receives every event.
// The returned cancel func is idempotent and closes the channel.
func (n *notifier) subscribe(buttonType string) (<-chan ChangeEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	sub := changeSubscriber{
		buttonType: buttonType,
		events:     make(chan ChangeEvent, subscriberBuffer),
	}
	n.subscribers[id] = sub

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if current, ok := n.subscribers[id]; ok {
			delete(n.subscribers, id)
			close(current.events)
		}
	}
	return sub.events, cancel
}

func (n *notifier) broadcast(event ChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, sub := range n.subscribers {
		if sub.buttonType != "" && sub.buttonType != event.ButtonType {
			continue
		}
		select {
		case sub.events <- event:
		default:
		}
	}
}

func (n *notifier) subscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subscribers)
}
