package utils

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by Get when no item arrives in time.
var ErrTimeout = errors.New("utils: time out in Get")

// Deque is a FIFO queue whose consumers can block until an item arrives.
type Deque struct {
	sync.RWMutex
	notEmptyNotify chan struct{}
	container      *list.List
}

func NewDeque() *Deque {
	return &Deque{container: list.New(), notEmptyNotify: make(chan struct{}, 1)}
}

func (s *Deque) Put(item interface{}) {
	s.Lock()
	s.container.PushFront(item)
	s.Unlock()
	select {
	case s.notEmptyNotify <- struct{}{}:
	default:
	}
}

// Get waits up to timeout for the oldest item.
func (s *Deque) Get(timeout time.Duration) (interface{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	item, err := s.GetContext(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrTimeout
	}
	return item, err
}

// GetContext waits for the oldest item until ctx is done.
func (s *Deque) GetContext(ctx context.Context) (interface{}, error) {
	for {
		s.Lock()
		if back := s.container.Back(); back != nil {
			item := s.container.Remove(back)
			more := s.container.Len() > 0
			s.Unlock()
			if more {
				// pass the wakeup on to the next waiter
				select {
				case s.notEmptyNotify <- struct{}{}:
				default:
				}
			}
			return item, nil
		}
		s.Unlock()

		select {
		case <-s.notEmptyNotify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len reports the number of queued items.
func (s *Deque) Len() int {
	s.RLock()
	defer s.RUnlock()
	return s.container.Len()
}
