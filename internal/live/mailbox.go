package live

import "sync"

// mailbox runs posted functions one at a time on a single goroutine. post
// never blocks, so device and transport callbacks may post from anywhere,
// including from inside a function the mailbox is currently running.
type mailbox struct {
	mu      sync.Mutex
	queue   []func()
	stopped bool

	wake   chan struct{}
	done   chan struct{}
	exited chan struct{}
}

func newMailbox() *mailbox {
	m := &mailbox{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *mailbox) post(fn func()) bool {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return true
}

// call posts fn and waits for it to finish
func (m *mailbox) call(fn func()) bool {
	finished := make(chan struct{})
	if !m.post(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-m.exited:
		return false
	}
}

func (m *mailbox) run() {
	defer close(m.exited)
	for {
		select {
		case <-m.wake:
			m.drain()
		case <-m.done:
			m.drain()
			return
		}
	}
}

func (m *mailbox) drain() {
	for {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		m.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, fn := range batch {
			fn()
		}
	}
}

// stop runs whatever is queued and ends the loop. It must not be called
// from a posted function.
func (m *mailbox) stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		<-m.exited
		return
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.done)
	<-m.exited
}
