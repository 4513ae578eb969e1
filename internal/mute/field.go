package mute

import "sync"

// Field is a bidirectional string-valued control. An external write (Set)
// runs the owning component's command handler; an internal write (Publish)
// stores the value and notifies subscribers without re-entering the handler.
// Only Publish changes the visible value, so malformed external input can
// never leak into reads. The updating flag is the echo guard: a subscriber
// that writes back synchronously during notification is suppressed instead
// of looping.
type Field struct {
	mu          sync.Mutex
	name        string
	value       string
	updating    bool
	onCommand   func(value string)
	subscribers map[string]func(value string)
}

// NewField creates a named control field with an empty value.
func NewField(name string) *Field {
	return &Field{
		name:        name,
		subscribers: make(map[string]func(string)),
	}
}

// Name returns the control's name.
func (f *Field) Name() string { return f.name }

// Value returns the current value.
func (f *Field) Value() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// SetCommandHandler registers the handler run on external writes. Only the
// owning component registers one.
func (f *Field) SetCommandHandler(fn func(value string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCommand = fn
}

// Subscribe registers a watcher notified on every value change, keyed by id.
func (f *Field) Subscribe(id string, fn func(value string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers[id] = fn
}

// Unsubscribe removes a watcher.
func (f *Field) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribers, id)
}

// Set applies an external write: the command handler runs and decides what
// the write means, republishing the resulting value through Publish. The raw
// text is never stored, so a rejected command leaves the visible value
// untouched and reads always return what the owner last published. Writes
// that arrive while an internal update is notifying are echoes of our own
// output and are dropped.
func (f *Field) Set(value string) {
	f.mu.Lock()
	if f.updating {
		f.mu.Unlock()
		return
	}
	handler := f.onCommand
	f.mu.Unlock()

	if handler != nil {
		handler(value)
	}
}

// Publish is the internal write path used by the component that owns the
// field: store the value and fan out to subscribers with the echo guard
// held, so the command handler never observes its own output.
func (f *Field) Publish(value string) {
	f.mu.Lock()
	f.value = value
	f.updating = true
	watchers := make([]func(string), 0, len(f.subscribers))
	for _, fn := range f.subscribers {
		watchers = append(watchers, fn)
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.updating = false
		f.mu.Unlock()
	}()

	for _, fn := range watchers {
		fn(value)
	}
}
