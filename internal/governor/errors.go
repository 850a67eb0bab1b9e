package governor

import (
	"errors"
	"fmt"
	"time"
)

// ConfigurationError reports an invalid static configuration, such as
// a model with no pricing entry. It is fatal and surfaces during
// startup validation, never per-call.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// RateLimitError is returned when the sliding window cannot admit a
// request. RetryAfter tells the caller how long until capacity frees
// up; the caller decides whether to wait, queue, or reject.
type RateLimitError struct {
	RetryAfter time.Duration
	Dimension  string // which limit surface denied, e.g. "window"
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded on %s, retry after %s", e.Dimension, e.RetryAfter)
}

// DelegateError wraps a failure from the external completion delegate.
// The summarizer absorbs it via the rule-based fallback; it never
// propagates out of the governor.
type DelegateError struct {
	Err error
}

func (e *DelegateError) Error() string {
	return fmt.Sprintf("completion delegate: %v", e.Err)
}

func (e *DelegateError) Unwrap() error {
	return e.Err
}

// ErrBudgetUnachievable signals that the protected message set alone
// exceeds the pruning target. It is a warning: the context is
// returned unchanged and the caller proceeds over the soft budget.
var ErrBudgetUnachievable = errors.New("protected messages exceed the token budget")
