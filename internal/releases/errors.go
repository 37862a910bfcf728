package releases

import (
	"errors"
	"fmt"

	"github.com/mscandco/platform/internal/platform/httpx"
)

var (
	// ErrNotFound indicates the release does not exist.
	ErrNotFound = fmt.Errorf("releases: %w", httpx.ErrNotFound)
	// ErrInvalidTransition indicates an unknown status or an edge missing from the workflow.
	ErrInvalidTransition = errors.New("releases: invalid status transition")
	// ErrMissingReason indicates an edge that requires a reason received none.
	ErrMissingReason = errors.New("releases: reason required for this transition")
	// ErrLockedForEditing indicates metadata edits outside draft or submitted.
	ErrLockedForEditing = errors.New("releases: release is locked for editing")
	// ErrStaleState indicates the release changed status since it was read.
	ErrStaleState = errors.New("releases: release status changed concurrently")
	// ErrInvalidInput indicates malformed create or update input.
	ErrInvalidInput = fmt.Errorf("releases: %w", httpx.ErrValidation)
)

func repoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrStaleState), errors.Is(err, ErrLockedForEditing):
		return err
	default:
		return httpx.Upstream(err)
	}
}
