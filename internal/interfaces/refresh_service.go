package interfaces

import (
	"context"

	"github.com/hereiam510/MyAPI/internal/models"
)

// RefreshService is the background token renewal scheduler.
type RefreshService interface {
	// Run executes the refresh loop until ctx is cancelled. Attempts are
	// strictly sequential: the loop awaits full completion of one acquisition
	// before sleeping, retrying, or pausing.
	Run(ctx context.Context)

	// TriggerNow requests an immediate refresh attempt. Coalesces when an
	// attempt is already in flight; returns an error while paused.
	TriggerNow() error

	// Status returns a snapshot for the status surface.
	Status() models.RefreshStatus
}
