package livestate

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lkaplan/livecomp/internal/models"
)

// ErrNotFound is returned when an entity or its live document does not
// exist. Querying a just-deleted entity is a normal outcome, so
// callers should branch on this rather than treat it as exceptional.
var ErrNotFound = errors.New("livestate: not found")

// ErrConcurrentModification is returned when a mutation lost the
// version race against another writer. Callers should re-read and
// treat it like an invalid transition.
var ErrConcurrentModification = errors.New("livestate: concurrent modification")

// ErrRoomBusy is returned when a room-guarded commit finds another
// in-progress session in the same room.
var ErrRoomBusy = errors.New("livestate: room already has a running session")

// InvalidTransitionError reports a lifecycle precondition violation,
// e.g. starting an already-started match.
type InvalidTransitionError struct {
	Op       string
	EntityID uuid.UUID
	Status   models.Status
	Reason   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("livestate: %s %s: %s (status %s)", e.Op, e.EntityID, e.Reason, e.Status)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
