package watch

import "github.com/dshills/lspsession/internal/lsp"

// batch coalesces file events per URI, keeping first-seen order.
type batch struct {
	order  []lsp.DocumentURI
	latest map[lsp.DocumentURI]lsp.FileChangeType
}

func (b *batch) add(ev lsp.FileEvent) {
	if b.latest == nil {
		b.latest = make(map[lsp.DocumentURI]lsp.FileChangeType)
	}
	prev, seen := b.latest[ev.URI]
	if !seen {
		b.order = append(b.order, ev.URI)
		b.latest[ev.URI] = ev.Type
		return
	}
	b.latest[ev.URI] = merge(prev, ev.Type)
}

// merge folds next into prev. A file created then written is still
// created; a file deleted then recreated has changed.
func merge(prev, next lsp.FileChangeType) lsp.FileChangeType {
	switch {
	case prev == lsp.FileCreated && next == lsp.FileChanged:
		return lsp.FileCreated
	case prev == lsp.FileDeleted && next == lsp.FileCreated:
		return lsp.FileChanged
	default:
		return next
	}
}

func (b *batch) take() []lsp.FileEvent {
	if len(b.order) == 0 {
		return nil
	}
	events := make([]lsp.FileEvent, 0, len(b.order))
	for _, uri := range b.order {
		events = append(events, lsp.FileEvent{URI: uri, Type: b.latest[uri]})
	}
	b.order = nil
	b.latest = nil
	return events
}
