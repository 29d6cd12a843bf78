package fixture

import "sync"

// Event is one notification captured by Recorder.
type Event struct {
	Name string
	Data interface{}
}

// Recorder is a service.Notifier that keeps every published event.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(event string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: event, Data: data})
}

// Names returns the published event names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
