package orchestrator

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event types delivered to an EventCallback.
const (
	EventNodeStart = "node_start"
	EventNodeEnd   = "node_end"
	EventRunEnd    = "run_end"
)

// EventCallback receives run progress. eventData is a JSON object.
type EventCallback func(eventType string, eventData string)

// NodeEvent is the payload of node events.
type NodeEvent struct {
	RunID      string `json:"run_id"`
	Node       string `json:"node"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// eventDispatcher delivers events to the callback sequentially from its own goroutine,
// so a slow or panicking callback never stalls or breaks a run.
type eventDispatcher struct {
	callback EventCallback
	eventCh  chan event
	wg       sync.WaitGroup
	closed   bool
	mu       sync.Mutex
	runID    string
}

type event struct {
	Type string
	Data string
}

func newEventDispatcher(runID string, callback EventCallback) *eventDispatcher {
	d := &eventDispatcher{callback: callback, runID: runID}
	if callback == nil {
		return d
	}
	d.eventCh = make(chan event, 64)
	d.wg.Add(1)
	go d.dispatchLoop()
	return d
}

func (d *eventDispatcher) dispatchLoop() {
	defer d.wg.Done()
	for e := range d.eventCh {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("engine: event callback panicked", "panic", r, "run_id", d.runID)
				}
			}()
			d.callback(e.Type, e.Data)
		}()
	}
}

// send marshals payload and queues it. Events are dropped once the dispatcher closed.
func (d *eventDispatcher) send(eventType string, payload any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.callback == nil || d.closed {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("engine: failed to encode event", "type", eventType, "error", err)
		return
	}
	d.eventCh <- event{Type: eventType, Data: string(data)}
}

// close flushes pending events and waits for the callback to drain them.
func (d *eventDispatcher) close() {
	d.mu.Lock()
	if d.callback == nil || d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.eventCh)
	d.wg.Wait()
}
