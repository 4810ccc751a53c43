package stream

import "sync"

type loopEventKind int

const (
	loopNotify loopEventKind = iota
	loopOpened
	loopFrame
	loopKeepAlive
	loopEnded
	loopStale
	loopRetry
)

// loopEvent is one unit of work for the session loop. gen ties transport
// and timer events to the connection that produced them.
type loopEvent struct {
	kind  loopEventKind
	gen   uint64
	data  string
	err   error
	event Event
}

// mailbox is an unbounded FIFO with a one-slot wake signal, so posting
// never blocks a transport reader or timer goroutine.
type mailbox struct {
	mu    sync.Mutex
	queue []loopEvent
	wake  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (b *mailbox) post(ev loopEvent) {
	b.mu.Lock()
	b.queue = append(b.queue, ev)
	b.mu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *mailbox) take() (loopEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return loopEvent{}, false
	}
	ev := b.queue[0]
	b.queue[0] = loopEvent{}
	b.queue = b.queue[1:]
	return ev, true
}

// connSink forwards one connection's transport callbacks into the mailbox.
type connSink struct {
	box *mailbox
	gen uint64
}

func (c connSink) Opened() {
	c.box.post(loopEvent{kind: loopOpened, gen: c.gen})
}

func (c connSink) Frame(data string) {
	c.box.post(loopEvent{kind: loopFrame, gen: c.gen, data: data})
}

func (c connSink) KeepAlive() {
	c.box.post(loopEvent{kind: loopKeepAlive, gen: c.gen})
}
