package msg

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Topic identifies a class of message on the PubSub network
type Topic int

const (
	// Status carries per-tick simulation reports
	Status Topic = iota
	// Config carries run descriptions
	Config
)

// ErrDuplicateSubscriber is returned when a pid subscribes twice to the same topic.
var ErrDuplicateSubscriber = errors.New("msg: pid already subscribed to topic")

// Publisher is an interface for objects that allow subscribtion to their events
type Publisher interface {
	Subscribe(uuid.UUID, Topic) (<-chan Msg, error)
	Unsubscribe(uuid.UUID)
}

// Msg is the unit of exchange between publishers and subscribers
type Msg struct {
	sender  uuid.UUID
	topic   Topic
	payload interface{}
}

// New is the Msg factory function
func New(sender uuid.UUID, topic Topic, payload interface{}) Msg {
	return Msg{sender, topic, payload}
}

// PID returns the sender's PID
func (v Msg) PID() uuid.UUID {
	return v.sender
}

// Topic returns the message topic
func (v Msg) Topic() Topic {
	return v.topic
}

// Payload returns the message data
func (v Msg) Payload() interface{} {
	return v.payload
}

// PubSub fans published messages out to subscribers by topic.
type PubSub struct {
	mux         *sync.Mutex
	pid         uuid.UUID
	subscribers map[Topic]map[uuid.UUID]chan Msg
	buffer      int
}

// NewPublisher returns a PubSub owned by pid.
func NewPublisher(pid uuid.UUID) *PubSub {
	return &PubSub{
		mux:         &sync.Mutex{},
		pid:         pid,
		subscribers: make(map[Topic]map[uuid.UUID]chan Msg),
		buffer:      64,
	}
}

// PID is the owner of the publisher
func (p *PubSub) PID() uuid.UUID {
	return p.pid
}

// Subscribe returns a buffered channel on which topic messages are delivered.
func (p *PubSub) Subscribe(pid uuid.UUID, topic Topic) (<-chan Msg, error) {
	p.mux.Lock()
	defer p.mux.Unlock()

	subs, ok := p.subscribers[topic]
	if !ok {
		subs = make(map[uuid.UUID]chan Msg)
		p.subscribers[topic] = subs
	}
	if _, exists := subs[pid]; exists {
		return nil, ErrDuplicateSubscriber
	}
	ch := make(chan Msg, p.buffer)
	subs[pid] = ch
	return ch, nil
}

// Unsubscribe closes every channel held by pid.
func (p *PubSub) Unsubscribe(pid uuid.UUID) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, subs := range p.subscribers {
		if ch, ok := subs[pid]; ok {
			delete(subs, pid)
			close(ch)
		}
	}
}

// Publish wraps payload in a Msg from the owner and forwards it.
func (p *PubSub) Publish(topic Topic, payload interface{}) {
	p.Forward(New(p.pid, topic, payload))
}

// Forward delivers m to every subscriber of its topic. Slow subscribers drop
// messages rather than stall the publisher.
func (p *PubSub) Forward(m Msg) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, ch := range p.subscribers[m.Topic()] {
		select {
		case ch <- m:
		default:
		}
	}
}

// Close unsubscribes everyone.
func (p *PubSub) Close() {
	p.mux.Lock()
	defer p.mux.Unlock()
	for topic, subs := range p.subscribers {
		for pid, ch := range subs {
			delete(subs, pid)
			close(ch)
		}
		delete(p.subscribers, topic)
	}
}

// Merge forwards every message from chs onto one channel of the given buffer
// size. The merged channel is closed once all of chs are closed and drained.
func Merge(size int, chs ...<-chan Msg) <-chan Msg {
	out := make(chan Msg, size)
	wg := &sync.WaitGroup{}
	wg.Add(len(chs))
	for _, ch := range chs {
		go func(ch <-chan Msg) {
			defer wg.Done()
			for m := range ch {
				out <- m
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
