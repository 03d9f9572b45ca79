package drafts

import "errors"

var (
	// ErrNotFound means the draft is not in the state the operation requires.
	ErrNotFound = errors.New("draft not found")
	// ErrNotConfigured means the platform poster lacks credentials or a command.
	ErrNotConfigured = errors.New("platform not configured")
	// ErrExternalFailure wraps the posting CLI's reported failure.
	ErrExternalFailure = errors.New("external posting failed")
	// ErrInvalidTarget means a reply target could not be resolved.
	ErrInvalidTarget = errors.New("invalid reply target")
	// ErrPostInFlight means another request is posting the same draft.
	ErrPostInFlight = errors.New("post already in flight")
	// ErrConflict means the destination folder already holds a file with the
	// draft's name.
	ErrConflict        = errors.New("draft already exists in destination")
	ErrUnknownPlatform = errors.New("unknown platform")
	ErrInvalidID       = errors.New("invalid draft id")
	ErrInvalidInput    = errors.New("invalid input")
)

// ExternalError carries the collaborator's output alongside ErrExternalFailure.
type ExternalError struct {
	Platform Platform
	Output   string
	Err      error
}

func (e *ExternalError) Error() string {
	if e.Output != "" {
		return "external posting failed: " + e.Output
	}
	if e.Err != nil {
		return "external posting failed: " + e.Err.Error()
	}
	return "external posting failed"
}

func (e *ExternalError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrExternalFailure, e.Err}
	}
	return []error{ErrExternalFailure}
}
