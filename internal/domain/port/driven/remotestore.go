package driven

import (
	"context"
	"errors"
	"time"

	"github.com/ericfisherdev/studiopanel/internal/domain/model"
)

// Remote failure classes. Adapters wrap one of these so callers can branch
// with errors.Is while the wrapped message stays human readable.
var (
	// ErrRemoteUnavailable covers transport failures, timeouts, 5xx, 408, 429
	// and the absence of a configured remote. Worth retrying.
	ErrRemoteUnavailable = errors.New("remote store unavailable")

	// ErrRemoteRejected covers validation or conflict errors reported by the
	// backend. Retrying the same request will not help.
	ErrRemoteRejected = errors.New("remote store rejected the request")
)

// RemoteStore defines the driven port for the authoritative tabular store.
// Every method returns either the affected rows or an error wrapping
// ErrRemoteUnavailable or ErrRemoteRejected.
type RemoteStore interface {
	Select(ctx context.Context, collection string, q model.Query) ([]model.Row, error)
	Insert(ctx context.Context, collection string, rows []model.Row) ([]model.Row, error)
	Update(ctx context.Context, collection string, fields model.Row, match model.Match) ([]model.Row, error)
	Delete(ctx context.Context, collection string, match model.Match) error
	Upsert(ctx context.Context, collection string, rows []model.Row, conflictKeys []string) ([]model.Row, error)
}

// RemoteError carries the backend's message alongside its failure class.
type RemoteError struct {
	Kind       error // ErrRemoteUnavailable or ErrRemoteRejected
	StatusCode int   // 0 for transport errors
	Message    string
	// RetryAfter is how long the backend asked callers to wait before
	// retrying, or zero.
	RetryAfter time.Duration
}

// RetryDelay returns the wait the backend requested in err, or zero.
func RetryDelay(err error) time.Duration {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

// Unwrap exposes the failure class to errors.Is.
func (e *RemoteError) Unwrap() error {
	return e.Kind
}
