package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrorCategory represents the kinds of failure the risk core can surface
type ErrorCategory string

const (
	// Fatal to the calling operation, never retried
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"

	// Sizing could not meet min_qty and min_notional at the same time
	ErrorCategoryConstraint ErrorCategory = "CONSTRAINT"

	// Routine validator rejection: do not submit
	ErrorCategoryLimitBreach ErrorCategory = "LIMIT_BREACH"

	// A resource metric could not be read; recovered as a neutral sample
	ErrorCategorySampling ErrorCategory = "SAMPLING"

	// Anything uncategorized from an external collaborator
	ErrorCategoryExternal ErrorCategory = "EXTERNAL"
)

// RiskError represents a categorized error with context
type RiskError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
}

// Error implements the error interface
func (e *RiskError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString(")")
	}
	if e.Underlying != nil {
		fmt.Fprintf(&b, ": %v", e.Underlying)
	}
	return b.String()
}

// Unwrap returns the underlying error for error unwrapping
func (e *RiskError) Unwrap() error {
	return e.Underlying
}

// Is matches any RiskError of the same category, so callers can use
// errors.Is(err, errors.ErrConfiguration) and friends.
func (e *RiskError) Is(target error) bool {
	t, ok := target.(*RiskError)
	if !ok {
		return false
	}
	return t.Component == "" && t.Operation == "" && t.Category == e.Category
}

// IsRetryable returns whether this error can be retried
func (e *RiskError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error must abort the calling operation
func (e *RiskError) IsFatal() bool {
	return e.Category == ErrorCategoryConfiguration
}

// Category sentinels for errors.Is
var (
	ErrConfiguration = &RiskError{Category: ErrorCategoryConfiguration}
	ErrConstraint    = &RiskError{Category: ErrorCategoryConstraint}
	ErrLimitBreach   = &RiskError{Category: ErrorCategoryLimitBreach}
	ErrSampling      = &RiskError{Category: ErrorCategorySampling}
)

// NewRiskError creates a new categorized error. The core never retries
// internally, so Retryable is always false here.
func NewRiskError(category ErrorCategory, component, operation, message string) *RiskError {
	return &RiskError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with risk error context
func WrapError(err error, category ErrorCategory, component, operation string) *RiskError {
	if err == nil {
		return nil
	}

	return &RiskError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Context:    make(map[string]interface{}),
	}
}

// WithContext adds context information to the error
func (e *RiskError) WithContext(key string, value interface{}) *RiskError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryable sets the retryable flag
func (e *RiskError) WithRetryable(retryable bool) *RiskError {
	e.Retryable = retryable
	return e
}

// Common error constructors
func NewConfigurationError(component, operation, message string) *RiskError {
	return NewRiskError(ErrorCategoryConfiguration, component, operation, message)
}

func NewConstraintError(component, operation, message string) *RiskError {
	return NewRiskError(ErrorCategoryConstraint, component, operation, message)
}

func NewLimitBreachError(component, operation, message string) *RiskError {
	return NewRiskError(ErrorCategoryLimitBreach, component, operation, message)
}

func NewSamplingError(component, operation string, err error) *RiskError {
	return WrapError(err, ErrorCategorySampling, component, operation)
}

// CategoryOf returns the category of err, or EXTERNAL when err is not a
// RiskError.
func CategoryOf(err error) ErrorCategory {
	var re *RiskError
	if stderrors.As(err, &re) {
		return re.Category
	}
	return ErrorCategoryExternal
}

// AddContext annotates err when it is a RiskError and returns it unchanged
// otherwise
func AddContext(err error, key string, value interface{}) error {
	var re *RiskError
	if stderrors.As(err, &re) {
		re.WithContext(key, value)
	}
	return err
}

func IsConfiguration(err error) bool { return stderrors.Is(err, ErrConfiguration) }
func IsConstraint(err error) bool    { return stderrors.Is(err, ErrConstraint) }
func IsLimitBreach(err error) bool   { return stderrors.Is(err, ErrLimitBreach) }
func IsSampling(err error) bool      { return stderrors.Is(err, ErrSampling) }

// ErrorStats tracks error statistics
type ErrorStats struct {
	mu sync.Mutex

	TotalErrors      int
	ErrorsByCategory map[ErrorCategory]int
	RecentErrors     []*RiskError
	MaxRecentErrors  int
}

// NewErrorStats creates a new error statistics tracker
func NewErrorStats(maxRecentErrors int) *ErrorStats {
	if maxRecentErrors < 1 {
		maxRecentErrors = 1
	}
	return &ErrorStats{
		ErrorsByCategory: make(map[ErrorCategory]int),
		RecentErrors:     make([]*RiskError, 0, maxRecentErrors),
		MaxRecentErrors:  maxRecentErrors,
	}
}

// RecordError records an error in the statistics. Plain errors are wrapped as
// EXTERNAL.
func (es *ErrorStats) RecordError(err error) {
	if err == nil {
		return
	}
	var re *RiskError
	if !stderrors.As(err, &re) {
		re = WrapError(err, ErrorCategoryExternal, "unknown", "unknown")
	}

	es.mu.Lock()
	defer es.mu.Unlock()

	es.TotalErrors++
	es.ErrorsByCategory[re.Category]++

	es.RecentErrors = append(es.RecentErrors, re)
	if len(es.RecentErrors) > es.MaxRecentErrors {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate returns the error rate for a specific category
func (es *ErrorStats) GetErrorRate(category ErrorCategory) float64 {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.TotalErrors == 0 {
		return 0.0
	}
	return float64(es.ErrorsByCategory[category]) / float64(es.TotalErrors)
}

// HasRecentErrors checks if there have been errors in the recent history
func (es *ErrorStats) HasRecentErrors(category ErrorCategory, count int) bool {
	es.mu.Lock()
	defer es.mu.Unlock()

	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Category == category {
			recentCount++
		}
	}
	return recentCount >= count
}

// Recent returns the messages of the recent errors, oldest first
func (es *ErrorStats) Recent() []string {
	es.mu.Lock()
	defer es.mu.Unlock()

	out := make([]string, 0, len(es.RecentErrors))
	for _, err := range es.RecentErrors {
		out = append(out, err.Error())
	}
	return out
}
