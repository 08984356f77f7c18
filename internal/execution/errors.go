package execution

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
)

// Kind classifies a failure for retry and transport decisions.
type Kind string

const (
	KindTimeout          Kind = "Timeout"
	KindRetriesExhausted Kind = "RetriesExhausted"
	KindNotFound         Kind = "NotFound"
	KindValidation       Kind = "ValidationError"
	KindUpstreamRejected Kind = "UpstreamRejected"
	KindInternal         Kind = "Internal"
)

var (
	ErrTimeout          = errors.New("timeout")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation error")
	ErrUpstreamRejected = errors.New("upstream rejected")
)

// NonRetryableKinds are failed immediately by both Temporal and Do.
var NonRetryableKinds = []Kind{KindValidation, KindNotFound, KindUpstreamRejected}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := sentinel(e.Kind).Error()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(kind Kind) error {
	switch kind {
	case KindTimeout:
		return ErrTimeout
	case KindRetriesExhausted:
		return ErrRetriesExhausted
	case KindNotFound:
		return ErrNotFound
	case KindValidation:
		return ErrValidation
	case KindUpstreamRejected:
		return ErrUpstreamRejected
	default:
		return errors.New("internal error")
	}
}

func Validation(op string, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Err: fmt.Errorf(format, args...)}
}

func NotFound(op string, format string, args ...any) error {
	return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf(format, args...)}
}

func Upstream(op string, err error) error {
	return &Error{Kind: KindUpstreamRejected, Op: op, Err: err}
}

func Timeout(op string, err error) error {
	if err == nil {
		err = context.DeadlineExceeded
	}
	return &Error{Kind: KindTimeout, Op: op, Err: err}
}

func Exhausted(op string, attempts int, err error) error {
	return &Error{Kind: KindRetriesExhausted, Op: op, Err: fmt.Errorf("after %d attempts: %w", attempts, err)}
}

// IsRetryable reports whether a failure may succeed when attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	kind := KindOf(err)
	for _, k := range NonRetryableKinds {
		if kind == k {
			return false
		}
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.NonRetryable() {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// ToApplicationError converts taxonomy errors into Temporal application errors
// so the type survives serialization and non-retryable kinds skip retries.
func ToApplicationError(err error) error {
	if err == nil {
		return nil
	}
	var execErr *Error
	if !errors.As(err, &execErr) {
		return err
	}
	// No cause: the message already holds the whole chain.
	for _, k := range NonRetryableKinds {
		if execErr.Kind == k {
			return temporal.NewNonRetryableApplicationError(err.Error(), string(k), nil)
		}
	}
	return temporal.NewApplicationError(err.Error(), string(execErr.Kind))
}

// KindOf classifies local taxonomy errors and errors returned by Temporal
// (activity, child workflow and workflow execution failures).
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if kind := applicationKind(err, NonRetryableKinds...); kind != "" {
		return kind
	}
	var execErr *Error
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	var activityErr *temporal.ActivityError
	if errors.As(err, &activityErr) && activityErr.RetryState() == enumspb.RETRY_STATE_MAXIMUM_ATTEMPTS_REACHED {
		return KindRetriesExhausted
	}
	if kind := applicationKind(err, KindRetriesExhausted, KindTimeout); kind != "" {
		return kind
	}
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	for _, kind := range []Kind{KindValidation, KindNotFound, KindUpstreamRejected, KindRetriesExhausted, KindTimeout} {
		if errors.Is(err, sentinel(kind)) {
			return kind
		}
	}
	return KindInternal
}

// applicationKind walks every application error in the chain. Workflows wrap
// activity and child failures, so the typed error is often not the outermost.
func applicationKind(err error, kinds ...Kind) Kind {
	for err != nil {
		var appErr *temporal.ApplicationError
		if !errors.As(err, &appErr) {
			return ""
		}
		for _, kind := range kinds {
			if Kind(appErr.Type()) == kind {
				return kind
			}
		}
		err = appErr.Unwrap()
	}
	return ""
}
