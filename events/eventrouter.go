package events

import (
	"github.com/mezonai/chaindb/block"
)

// EventRouter turns store commits into bus events. A nil router or a router
// without a bus drops everything, so the store can publish unconditionally.
type EventRouter struct {
	eventBus *EventBus
}

// NewEventRouter creates a new EventRouter instance
func NewEventRouter(eventBus *EventBus) *EventRouter {
	return &EventRouter{eventBus: eventBus}
}

func (er *EventRouter) publish(event ChainEvent) {
	if er == nil || er.eventBus == nil {
		return
	}
	er.eventBus.Publish(event)
}

func (er *EventRouter) PublishBlockAppended(number uint64, hash block.Hash, finalized bool) {
	er.publish(NewBlockAppended(number, hash, finalized))
}

func (er *EventRouter) PublishBlockFinalized(number uint64, hash block.Hash) {
	er.publish(NewBlockFinalized(number, hash))
}

func (er *EventRouter) PublishHeadRewound(from, to uint64, hash block.Hash, orphaned int) {
	er.publish(NewHeadRewound(from, to, hash, orphaned))
}

// PublishBodiesPruned is skipped when nothing was reclaimed
func (er *EventRouter) PublishBodiesPruned(base uint64, blocks int, bytes uint64) {
	if blocks == 0 {
		return
	}
	er.publish(NewBodiesPruned(base, blocks, bytes))
}

func (er *EventRouter) PublishOrphansPurged(best uint64, count int) {
	if count == 0 {
		return
	}
	er.publish(NewOrphansPurged(best, count))
}
