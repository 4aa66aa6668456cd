package lsp

import (
	"sync"
)

// AllMethods subscribes a handler to every notification.
const AllMethods = "*"

// NotificationHandler receives a server notification. A returned error is
// logged and does not stop dispatch to other handlers.
//
// Handlers run on the goroutine that is draining the inbound queue, which
// is inside a Session call. They must not call back into the Session.
type NotificationHandler func(n *ServerNotification) error

type subscription struct {
	id      uint64
	handler NotificationHandler
}

// Router fans server notifications out to subscribers by method.
type Router struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{subs: make(map[string][]subscription)}
}

// Subscribe registers h for method, or for every method when method is
// AllMethods. The returned function removes the subscription.
func (r *Router) Subscribe(method string, h NotificationHandler) (unsubscribe func()) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.subs[method] = append(r.subs[method], subscription{id: id, handler: h})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(method, id) })
	}
}

func (r *Router) remove(method string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subs[method]
	for i, s := range subs {
		if s.id == id {
			r.subs[method] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(r.subs[method]) == 0 {
		delete(r.subs, method)
	}
}

// Dispatch delivers n to the method's subscribers in subscription order,
// then to the AllMethods subscribers. It returns how many handlers ran and
// the errors they returned.
func (r *Router) Dispatch(n *ServerNotification) (int, []error) {
	r.mu.RLock()
	handlers := make([]NotificationHandler, 0, len(r.subs[n.Method])+len(r.subs[AllMethods]))
	for _, s := range r.subs[n.Method] {
		handlers = append(handlers, s.handler)
	}
	if n.Method != AllMethods {
		for _, s := range r.subs[AllMethods] {
			handlers = append(handlers, s.handler)
		}
	}
	r.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(n); err != nil {
			errs = append(errs, err)
		}
	}
	return len(handlers), errs
}
