package port

import "github.com/iwasamnot/campus-connect-core-sub006/internal/core/domain"

// Presenter is the outward face of the call session: the UI layer
// implements it to render call screens, ring, and show errors. Calls
// arrive from the session actor goroutine and must not block.
type Presenter interface {
	// PresentState is invoked on every state transition with a full
	// snapshot, including the end reason and error when returning to idle.
	PresentState(snap domain.Snapshot)

	// AttachLocalMedia and AttachRemoteMedia are invoked once per call,
	// only after the session reaches the active state.
	AttachLocalMedia()
	AttachRemoteMedia()
}
