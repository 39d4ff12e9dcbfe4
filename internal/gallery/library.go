package gallery

import (
	"context"
	"log"
	"sync"
	"time"
)

// Library holds the active photo set, the biography and the display cursor.
// Photos keep their upload order; byName indexes the same records by their
// stable file-name identity so single-record edits never rebuild the slice.
//
// All mutation goes through these methods; callers never hold Photo pointers.
type Library struct {
	mu             sync.RWMutex
	photos         []*Photo
	byName         map[string]*Photo
	biography      string
	currentIndex   int
	pendingReapply bool

	store        Store
	listeners    map[int]func()
	nextListener int
}

func NewLibrary(store Store) *Library {
	return &Library{
		byName:    make(map[string]*Photo),
		store:     store,
		listeners: make(map[int]func()),
	}
}

// Subscribe registers a callback fired after every mutation. Used by the
// websocket layer to push gallery updates to the UI. The returned function
// removes the subscription.
func (l *Library) Subscribe(fn func()) (cancel func()) {
	l.mu.Lock()
	id := l.nextListener
	l.nextListener++
	l.listeners[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.listeners, id)
		l.mu.Unlock()
	}
}

// Restore loads the persisted library, if any.
func (l *Library) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	snap, ok, err := l.store.LoadLibrary(ctx)
	if err != nil || !ok {
		return err
	}
	l.mu.Lock()
	l.applyLocked(snap)
	l.mu.Unlock()
	return nil
}

// Replace swaps in a freshly uploaded photo set and biography. The display
// cursor returns to the first photo and any pending re-apply flag is cleared.
func (l *Library) Replace(photos []Photo, biography string) {
	l.mu.Lock()
	l.applyLocked(Snapshot{Biography: biography, Photos: photos})
	l.mu.Unlock()
	l.committed()
}

func (l *Library) applyLocked(snap Snapshot) {
	l.photos = l.photos[:0]
	l.byName = make(map[string]*Photo, len(snap.Photos))
	for i := range snap.Photos {
		p := snap.Photos[i]
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = time.Now().UTC()
		}
		if _, dup := l.byName[p.FileName]; dup {
			log.Printf("gallery: duplicate file name %q dropped", p.FileName)
			continue
		}
		l.photos = append(l.photos, &p)
		l.byName[p.FileName] = &p
	}
	l.biography = snap.Biography
	l.currentIndex = snap.CurrentIndex
	if l.currentIndex < 0 || l.currentIndex >= len(l.photos) {
		l.currentIndex = 0
	}
	l.pendingReapply = snap.PendingReapply
}

// Clear removes every photo and the biography.
func (l *Library) Clear() {
	l.mu.Lock()
	l.applyLocked(Snapshot{})
	l.mu.Unlock()
	l.committed()
}

// Snapshot returns a deep copy of the current library state.
func (l *Library) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

func (l *Library) snapshotLocked() Snapshot {
	out := Snapshot{
		Biography:      l.biography,
		CurrentIndex:   l.currentIndex,
		PendingReapply: l.pendingReapply,
		Photos:         make([]Photo, 0, len(l.photos)),
	}
	for _, p := range l.photos {
		out.Photos = append(out.Photos, *p)
	}
	return out
}

// Current returns the photo under the display cursor.
func (l *Library) Current() (Photo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.photos) == 0 {
		return Photo{}, false
	}
	return *l.photos[l.currentIndex], true
}

// FileNames returns the manifest of valid photo identities in display order.
func (l *Library) FileNames() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, len(l.photos))
	for i, p := range l.photos {
		names[i] = p.FileName
	}
	return names
}

func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.photos)
}

// UpdateUserContext overwrites one photo's user context and raises the
// pending re-apply flag: the live session only sees the edit after the next
// reconnect, so the UI must offer to apply it. Unknown names are a no-op.
func (l *Library) UpdateUserContext(fileName, newContext string) bool {
	l.mu.Lock()
	p, ok := l.byName[fileName]
	if !ok {
		l.mu.Unlock()
		return false
	}
	p.UserContext = newContext
	p.UpdatedAt = time.Now().UTC()
	l.pendingReapply = true
	l.mu.Unlock()
	l.committed()
	return true
}

// SetAIContext records the one-shot analysis result for a photo.
func (l *Library) SetAIContext(fileName, text string) bool {
	l.mu.Lock()
	p, ok := l.byName[fileName]
	if !ok {
		l.mu.Unlock()
		return false
	}
	p.AIContext = text
	p.UpdatedAt = time.Now().UTC()
	l.mu.Unlock()
	l.committed()
	return true
}

// ShowPhoto moves the named photo to the front of the display order and sets
// the cursor to it, preserving the relative order of the remaining photos.
// Returns false when the name is unknown.
func (l *Library) ShowPhoto(fileName string) bool {
	l.mu.Lock()
	p, ok := l.byName[fileName]
	if !ok {
		l.mu.Unlock()
		return false
	}
	idx := 0
	for i, cand := range l.photos {
		if cand == p {
			idx = i
			break
		}
	}
	if idx != 0 {
		copy(l.photos[1:idx+1], l.photos[:idx])
		l.photos[0] = p
	}
	l.currentIndex = 0
	l.mu.Unlock()
	l.committed()
	return true
}

// Advance cycles the display cursor to the next photo.
func (l *Library) Advance() (Photo, bool) {
	l.mu.Lock()
	if len(l.photos) <= 1 {
		l.mu.Unlock()
		return Photo{}, false
	}
	l.currentIndex = (l.currentIndex + 1) % len(l.photos)
	current := *l.photos[l.currentIndex]
	l.mu.Unlock()
	l.committed()
	return current, true
}

// ClearPendingReapply acknowledges that the latest edits reached the live
// session (called after a reset rebuilds the system prompt).
func (l *Library) ClearPendingReapply() {
	l.mu.Lock()
	l.pendingReapply = false
	l.mu.Unlock()
	l.committed()
}

func (l *Library) PendingReapply() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pendingReapply
}

// committed persists best-effort and fires change listeners. Persistence
// failures are logged, never surfaced: the in-memory state stays the source
// of truth for the running session.
func (l *Library) committed() {
	l.mu.RLock()
	snap := l.snapshotLocked()
	fns := make([]func(), 0, len(l.listeners))
	for _, fn := range l.listeners {
		fns = append(fns, fn)
	}
	store := l.store
	l.mu.RUnlock()

	if store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := store.SaveLibrary(ctx, snap); err != nil {
			log.Printf("gallery: persist failed: %v", err)
		}
		cancel()
	}
	for _, fn := range fns {
		fn()
	}
}
