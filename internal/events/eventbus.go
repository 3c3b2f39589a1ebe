package events

import (
	"sync"

	"github.com/goatnetwork/bond-aevum/internal/types"
	log "github.com/sirupsen/logrus"
)

type EventType int

const (
	EventUnknown EventType = iota
	BlockConnected
	BlockDisconnected
	Reorganized
	TxOrphaned
	TransferStatusChanged
)

func (e EventType) String() string {
	return [...]string{"EventUnknown", "BlockConnected", "BlockDisconnected", "Reorganized", "TxOrphaned", "TransferStatusChanged"}[e]
}

// BlockEvent is published for BlockConnected and BlockDisconnected.
type BlockEvent struct {
	Chain  types.ChainID
	Hash   types.Hash
	Height uint64
}

type ReorgEvent struct {
	Chain        types.ChainID
	OldTip       types.ChainTip
	NewTip       types.ChainTip
	Disconnected []types.Hash
	Connected    []types.Hash
}

// TxOrphanedEvent reports a transaction that was confirmed only on a branch that
// lost a reorganization and could not be re-admitted to the mempool.
type TxOrphanedEvent struct {
	Chain  types.ChainID
	TxHash types.Hash
	Reason error
}

type TransferEvent struct {
	TransferID string
	From       string
	To         string
}

type EventBus struct {
	subscribers map[EventType][]chan interface{}
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]chan interface{}),
	}
}

func (eb *EventBus) Subscribe(eventType EventType, ch chan interface{}) {
	if ch == nil {
		panic("channel == nil")
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
}

// Publish never blocks: a subscriber whose buffer is full misses the event.
func (eb *EventBus) Publish(eventType EventType, data interface{}) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[eventType] {
		select {
		case ch <- data:
		default:
			log.Warnf("EventBus: subscriber of %s is full, event dropped", eventType)
		}
	}
}

func (eb *EventBus) Unsubscribe(eventType EventType, ch chan interface{}) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subscribers, ok := eb.subscribers[eventType]
	if !ok {
		return
	}

	for i, subscriber := range subscribers {
		if subscriber == ch {
			eb.subscribers[eventType] = append(subscribers[:i:i], subscribers[i+1:]...)
			break
		}
	}
	if len(eb.subscribers[eventType]) == 0 {
		delete(eb.subscribers, eventType)
	}
}
