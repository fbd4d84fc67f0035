package realtime

import "sync"

// Hub maps topics (room IDs or conversation IDs) to subscribed connections.
// Subscribe and Unsubscribe are idempotent.
type Hub struct {
	mu       sync.RWMutex
	topics   map[string]map[*Client]struct{}
	byClient map[*Client]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		topics:   make(map[string]map[*Client]struct{}),
		byClient: make(map[*Client]map[string]struct{}),
	}
}

// Subscribe adds c to topic and reports whether it was newly added.
func (h *Hub) Subscribe(topic string, c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[*Client]struct{})
		h.topics[topic] = subs
	}
	if _, ok := subs[c]; ok {
		return false
	}
	subs[c] = struct{}{}

	mine := h.byClient[c]
	if mine == nil {
		mine = make(map[string]struct{})
		h.byClient[c] = mine
	}
	mine[topic] = struct{}{}
	return true
}

// Unsubscribe removes c from topic and returns how many subscribers remain.
func (h *Hub) Unsubscribe(topic string, c *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeLocked(topic, c)
	return len(h.topics[topic])
}

// UnsubscribeAll removes c from every topic. It returns the topics c was in and the
// subset left without subscribers.
func (h *Hub) UnsubscribeAll(c *Client) (topics, emptied []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic := range h.byClient[c] {
		topics = append(topics, topic)
		h.removeLocked(topic, c)
		if len(h.topics[topic]) == 0 {
			emptied = append(emptied, topic)
		}
	}
	delete(h.byClient, c)
	return topics, emptied
}

func (h *Hub) removeLocked(topic string, c *Client) {
	if subs := h.topics[topic]; subs != nil {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	if mine := h.byClient[c]; mine != nil {
		delete(mine, topic)
		if len(mine) == 0 {
			delete(h.byClient, c)
		}
	}
}

func (h *Hub) IsSubscribed(topic string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.topics[topic][c]
	return ok
}

// HasDID reports whether any connection of did is subscribed to topic.
func (h *Hub) HasDID(topic, did string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.topics[topic] {
		if c.DID == did {
			return true
		}
	}
	return false
}

// Len returns the number of subscribers of topic.
func (h *Hub) Len(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Subscribers returns a snapshot of topic's connections.
func (h *Hub) Subscribers(topic string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		out = append(out, c)
	}
	return out
}

// Broadcast enqueues frame for every open subscriber except exclude and returns
// how many connections accepted it.
func (h *Hub) Broadcast(topic string, frame []byte, exclude *Client) int {
	return h.BroadcastFunc(topic, frame, func(c *Client) bool { return c != exclude })
}

// BroadcastFunc enqueues frame for every open subscriber for which keep returns true.
func (h *Hub) BroadcastFunc(topic string, frame []byte, keep func(*Client) bool) int {
	n := 0
	for _, c := range h.Subscribers(topic) {
		if c.Closed() || (keep != nil && !keep(c)) {
			continue
		}
		if c.Enqueue(frame) {
			n++
		}
	}
	return n
}
