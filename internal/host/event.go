package host

import "fmt"

// EventKind is the closed set of window-runtime events the shell handles.
type EventKind int

const (
	EventExitRequested EventKind = iota + 1
	EventWindowDestroyed
	EventNavigation
	EventMenu
)

func (k EventKind) String() string {
	switch k {
	case EventExitRequested:
		return "exit_requested"
	case EventWindowDestroyed:
		return "window_destroyed"
	case EventNavigation:
		return "navigation"
	case EventMenu:
		return "menu"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered by the window runtime. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind   EventKind
	Window string // label of the window the event concerns
	Last   bool   // EventWindowDestroyed: no windows remain
	URL    string // EventNavigation
	MenuID string // EventMenu
}

// Handler processes one event. For EventNavigation the result is whether
// the navigation may proceed; other kinds report whether they were handled.
type Handler func(Event) bool
