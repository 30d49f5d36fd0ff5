package bridge

import "sync"

// Subscription is a handle on a push stream. C is closed once the stream
// ends; Close is idempotent and releases the remote side exactly once.
type Subscription[T any] interface {
	C() <-chan T
	Close() error
}

// Feed is an ordered Subscription whose Publish never blocks the producer.
// Items queue in memory until the consumer reads them.
type Feed[T any] struct {
	out  chan T
	done chan struct{}

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []T
	closed bool

	once    sync.Once
	onClose func()
}

// NewFeed starts a feed. onClose, when set, runs once on the first Close.
func NewFeed[T any](onClose func()) *Feed[T] {
	f := &Feed[T]{
		out:     make(chan T),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	f.cond = sync.NewCond(&f.mu)
	go f.pump()
	return f
}

// Publish queues v. It reports false when the feed is already closed.
func (f *Feed[T]) Publish(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	f.queue = append(f.queue, v)
	f.cond.Signal()
	return true
}

func (f *Feed[T]) C() <-chan T {
	return f.out
}

func (f *Feed[T]) Done() <-chan struct{} {
	return f.done
}

func (f *Feed[T]) Close() error {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.queue = nil
		f.cond.Broadcast()
		f.mu.Unlock()

		close(f.done)
		if f.onClose != nil {
			f.onClose()
		}
	})
	return nil
}

func (f *Feed[T]) pump() {
	defer close(f.out)

	var zero T
	for {
		f.mu.Lock()
		for len(f.queue) == 0 && !f.closed {
			f.cond.Wait()
		}
		if f.closed {
			f.mu.Unlock()
			return
		}
		v := f.queue[0]
		f.queue[0] = zero
		f.queue = f.queue[1:]
		f.mu.Unlock()

		select {
		case f.out <- v:
		case <-f.done:
			return
		}
	}
}
