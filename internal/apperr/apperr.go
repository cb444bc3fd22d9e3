// Package apperr defines the error conditions shared by the store, the
// access engine, and both transport surfaces. Callers match with errors.Is.
package apperr

import "errors"

var (
	// ErrNotFound means the entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied means the entity exists but the caller lacks membership or role.
	ErrAccessDenied = errors.New("access denied")
	// ErrValidation means the input is malformed.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateChannelName means a channel with this name already exists in the team.
	ErrDuplicateChannelName = errors.New("channel name already taken in this team")
	// ErrProjectNotInTeam means the referenced project belongs to a different team.
	ErrProjectNotInTeam = errors.New("project does not belong to this team")
	// ErrLastOwner means the operation would leave the team without an owner.
	ErrLastOwner = errors.New("team must keep at least one owner")
	// ErrConflict is a generic uniqueness violation.
	ErrConflict = errors.New("conflict")
)

// IsConflict reports whether err is any of the uniqueness-violation conditions.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrDuplicateChannelName) ||
		errors.Is(err, ErrLastOwner)
}
