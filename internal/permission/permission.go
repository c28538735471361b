package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/audiolibrelab/videorecorder/internal/device"
)

// Status is the authorization state for one media kind
type Status int

const (
	StatusNotDetermined Status = iota
	StatusRestricted
	StatusDenied
	StatusAuthorized
)

func (s Status) String() string {
	switch s {
	case StatusNotDetermined:
		return "not_determined"
	case StatusRestricted:
		return "restricted"
	case StatusDenied:
		return "denied"
	case StatusAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

var (
	ErrDenied     = errors.New("access denied")
	ErrRestricted = errors.New("access restricted by policy")
)

// Error reports a failed gate for one media kind
type Error struct {
	Kind   device.Kind
	Status Status
}

func (e *Error) Error() string {
	if e.Status == StatusRestricted {
		return fmt.Sprintf("%s capture is restricted by policy", e.Kind)
	}
	return fmt.Sprintf("%s capture access denied, grant it with 'videorecorder permission grant %s'", e.Kind, e.Kind)
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrRestricted:
		return e.Status == StatusRestricted
	case ErrDenied:
		return e.Status == StatusDenied || e.Status == StatusNotDetermined
	}
	return false
}

// Authorizer is the privacy service consulted before capture starts
type Authorizer interface {
	Status(kind device.Kind) Status
	// RequestAccess asks for access. The answer arrives on the returned
	// channel once the user has decided.
	RequestAccess(ctx context.Context, kind device.Kind) <-chan Result
}

// Result is the outcome of an access request
type Result struct {
	Granted bool
	Err     error
}

// Gate passes when every kind is authorized, requesting access for kinds
// that have not been decided yet
func Gate(ctx context.Context, a Authorizer, kinds ...device.Kind) error {
	for _, kind := range kinds {
		status := a.Status(kind)
		slog.Debug("Permission status", "kind", kind, "status", status)

		switch status {
		case StatusAuthorized:
			continue
		case StatusRestricted, StatusDenied:
			return &Error{Kind: kind, Status: status}
		case StatusNotDetermined:
			select {
			case res := <-a.RequestAccess(ctx, kind):
				if res.Err != nil {
					return fmt.Errorf("failed to request %s access: %w", kind, res.Err)
				}
				if !res.Granted {
					return &Error{Kind: kind, Status: StatusDenied}
				}
				slog.Info("Access granted", "kind", kind)
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			return fmt.Errorf("unhandled permission status %d for %s", status, kind)
		}
	}
	return nil
}
