package common

import (
	"sync"
)

// Callback receives the payload of a fired event.
type Callback func(data map[string]interface{})

// Event represents a class to handle the callbacks for a single event.
type Event struct {
	mutex     sync.Mutex
	nextID    uint64
	ids       []uint64
	callbacks map[uint64]Callback
}

// AddCallback adds a new callback to the event and returns a handle for RemoveCallback.
func (e *Event) AddCallback(callback Callback) uint64 {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.callbacks == nil {
		e.callbacks = make(map[uint64]Callback)
	}
	e.nextID++
	e.ids = append(e.ids, e.nextID)
	e.callbacks[e.nextID] = callback
	return e.nextID
}

// RemoveCallback removes the callback registered under id.
func (e *Event) RemoveCallback(id uint64) bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if _, ok := e.callbacks[id]; !ok {
		return false
	}
	delete(e.callbacks, id)
	for i, cur := range e.ids {
		if cur == id {
			e.ids = append(e.ids[:i], e.ids[i+1:]...)
			break
		}
	}
	return true
}

// Fire raises the event and calls all callbacks in registration order.
// Callbacks run outside the event lock and may add or remove callbacks.
func (e *Event) Fire(data map[string]interface{}) {
	e.mutex.Lock()
	snapshot := make([]Callback, 0, len(e.ids))
	for _, id := range e.ids {
		snapshot = append(snapshot, e.callbacks[id])
	}
	e.mutex.Unlock()

	for _, callback := range snapshot {
		callback(data)
	}
}

// Len returns the number of callbacks.
func (e *Event) Len() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	return len(e.ids)
}
