package events

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Name string

const (
	TaskCreated      Name = "taskCreated"
	TaskUpdated      Name = "taskUpdated"
	TaskDeleted      Name = "taskDeleted"
	TasksBulkUpdated Name = "tasksBulkUpdated"
	TasksBulkDeleted Name = "tasksBulkDeleted"
	ConfigUpdated    Name = "configUpdated"
	RoomCreated      Name = "roomCreated"
	RoomJoined       Name = "roomJoined"
	RoomDeleted      Name = "roomDeleted"
	Initialized      Name = "initialized"
	Synced           Name = "synced"
	Error            Name = "error"
)

type Event struct {
	Name    Name      `json:"name"`
	Source  string    `json:"source"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Listener errors and panics are logged and never reach the emitter.
type Listener func(Event) error

type subscription struct {
	id       uint64
	name     Name
	listener Listener
}

// Bus is a synchronous publish/subscribe hub scoped to one backend instance.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	source string
	log    *zap.Logger
	now    func() time.Time
}

func NewBus(source string, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{source: source, log: log, now: time.Now}
}

// Subscribe registers listener for name. An empty name receives every event.
func (b *Bus) Subscribe(name Name, listener Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, name: name, listener: listener})
	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) SubscribeAll(listener Listener) func() {
	return b.Subscribe("", listener)
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) Emit(name Name, payload any) {
	b.mu.RLock()
	targets := make([]Listener, 0, len(b.subs))
	for _, s := range b.subs {
		if s.name == "" || s.name == name {
			targets = append(targets, s.listener)
		}
	}
	b.mu.RUnlock()
	evt := Event{Name: name, Source: b.source, Payload: payload, At: b.now().UTC()}
	for _, l := range targets {
		b.deliver(l, evt)
	}
}

func (b *Bus) deliver(l Listener, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event listener panicked", zap.String("event", string(evt.Name)), zap.String("panic", fmt.Sprint(r)))
		}
	}()
	if err := l(evt); err != nil {
		b.log.Warn("event listener failed", zap.String("event", string(evt.Name)), zap.Error(err))
	}
}
