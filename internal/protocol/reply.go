package protocol

import (
	"encoding/json"
	"net/http"
	"sync"
)

// reply is one pending HTTP response body targeted at a ResponseWriter.
type reply struct {
	w    http.ResponseWriter
	body []byte
}

// ReplyManager serializes writes per TCP socket: only one write is ever
// in flight for a given key, queueing the rest, so that two HTTP GETs
// arriving back-to-back on the same keep-alive connection never
// interleave their bodies (spec.md §4.5, "Reply queue", grounded on
// original_source/source/http/http.cpp's ReplyManager::enqueue).
type ReplyManager struct {
	mu     sync.Mutex
	queues map[string][]reply
	inuse  map[string]bool
}

// NewReplyManager returns an empty manager.
func NewReplyManager() *ReplyManager {
	return &ReplyManager{
		queues: make(map[string][]reply),
		inuse:  make(map[string]bool),
	}
}

// Enqueue schedules body to be written to w under key (typically the
// remote address of the originating TCP connection). If no write is
// currently in flight for key, it is written immediately.
func (rm *ReplyManager) Enqueue(key string, w http.ResponseWriter, body []byte) {
	rm.mu.Lock()
	rm.queues[key] = append(rm.queues[key], reply{w: w, body: body})
	free := !rm.inuse[key]
	rm.mu.Unlock()
	if free {
		rm.next(key)
	}
}

func (rm *ReplyManager) next(key string) {
	rm.mu.Lock()
	q := rm.queues[key]
	if len(q) == 0 {
		rm.inuse[key] = false
		rm.mu.Unlock()
		return
	}
	rm.inuse[key] = true
	head := q[0]
	rm.mu.Unlock()

	n, err := head.w.Write(head.body)
	_ = n
	_ = err // a failed write just drops the reply; the socket is presumed dead

	rm.mu.Lock()
	q = rm.queues[key]
	if len(q) > 0 {
		q = q[1:]
	}
	rm.queues[key] = q
	rm.mu.Unlock()

	rm.next(key)
}

// EnqueueJSON sets the JSON content type, then enqueues body the same way
// Enqueue does. The header must be set before the first write, so this
// cannot be folded into next() itself.
func (rm *ReplyManager) EnqueueJSON(key string, w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rm.Enqueue(key, w, body)
}

func writeFile(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte("{}"))
}

func commandFrame(command string, data interface{}) ([]byte, error) {
	return json.Marshal(map[string]interface{}{"COMMAND": command, "DATA": data})
}
