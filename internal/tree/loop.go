package tree

// event is one unit of tree-owning work posted onto a Loop's channel by an
// I/O goroutine (a WebSocket read loop, an HTTP handler, a UDP read loop).
// fn runs on the loop goroutine with exclusive access to the tree; done, if
// set, is closed once fn returns so the submitter can block for the result.
type event struct {
	fn   func(*Tree)
	done chan struct{}
}

// defaultQueueSize bounds how many events may be queued before Post/Do
// blocks the submitting goroutine, per spec.md §5's "single-threaded
// tree-owning event loop" fed by a bounded channel.
const defaultQueueSize = 256

// Loop is the single goroutine that owns every mutation and read of a Tree.
// No other goroutine may call Tree/Node methods directly once a Loop owns
// the tree: they submit a closure instead (spec.md §5, SPEC_FULL.md §5,
// grounded on the teacher's ingest/processors worker-over-channel pattern
// rather than a shared mutex per node).
type Loop struct {
	tree   *Tree
	events chan event
	stop   chan struct{}
}

// NewLoop starts a Loop owning t and returns it. The caller must call
// Close when the node shuts down.
func NewLoop(t *Tree) *Loop {
	l := &Loop{
		tree:   t,
		events: make(chan event, defaultQueueSize),
		stop:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	for {
		select {
		case ev := <-l.events:
			ev.fn(l.tree)
			if ev.done != nil {
				close(ev.done)
			}
		case <-l.stop:
			return
		}
	}
}

// Do submits fn to run on the loop goroutine and blocks until it has run.
// Use for anything whose caller needs a result (HTTP replies, command
// handlers that must finish before the next frame is processed).
func (l *Loop) Do(fn func(*Tree)) {
	done := make(chan struct{})
	l.events <- event{fn: fn, done: done}
	<-done
}

// Post submits fn to run on the loop goroutine without waiting for it to
// complete. Use for fire-and-forget work where the submitter has nothing
// left to do with the result.
func (l *Loop) Post(fn func(*Tree)) {
	l.events <- event{fn: fn}
}

// Close stops the loop goroutine. Events already queued are dropped.
func (l *Loop) Close() {
	close(l.stop)
}
