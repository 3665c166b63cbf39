package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "fetch", "read")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// MalformedInputError reports a schema or parse failure in one of the input sources.
// It is fatal for the whole run.
type MalformedInputError struct {
	Source string // Source identifier (file path or URL)
	Row    int    // 1-based data row, 0 for header problems
	Column string
	Err    error
}

func (e *MalformedInputError) Error() string {
	msg := "malformed input [" + e.Source + "]"
	if e.Row > 0 {
		msg += " row " + strconv.Itoa(e.Row)
	}
	if e.Column != "" {
		msg += " column " + strconv.Quote(e.Column)
	}
	return msg + ": " + e.Err.Error()
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

// UnmatchedJoinError is returned under the "fail" policy when a trade references
// an order that is not in the order table.
type UnmatchedJoinError struct {
	OrderID string
	Seq     int64
}

func (e *UnmatchedJoinError) Error() string {
	return fmt.Sprintf("trade #%d references unknown order %q", e.Seq, e.OrderID)
}

func (e *UnmatchedJoinError) Unwrap() error {
	return ErrUnmatchedTrade
}

// SourceError reports a source location that cannot be resolved to a readable file.
type SourceError struct {
	Location string
	Err      error
}

func (e *SourceError) Error() string {
	return "source " + strconv.Quote(e.Location) + ": " + e.Err.Error()
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

var (
	// ErrMissingColumn is returned when a required column is absent from a header.
	ErrMissingColumn = errors.New("missing required column")

	// ErrInvalidTimestamp is returned when a timestamp cannot be parsed.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrInvalidNumber is returned when a price or quantity cannot be parsed.
	ErrInvalidNumber = errors.New("invalid number")

	// ErrInvalidSide is returned for sides other than BUY or SELL.
	ErrInvalidSide = errors.New("invalid side")

	// ErrUnmatchedTrade marks trades whose order_id has no parent order.
	ErrUnmatchedTrade = errors.New("unmatched trade")

	// ErrNoQuote marks fills without a quote at or before the execution time. Never fatal.
	ErrNoQuote = errors.New("no quote available")

	// ErrSourceNotFound is returned when a source location does not exist.
	ErrSourceNotFound = errors.New("source not found")

	// ErrUnsupportedSource is returned for locations that are not CSV files.
	ErrUnsupportedSource = errors.New("unsupported source")

	// ErrOrderNotFound is returned when an order summary lookup misses.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNoRunYet is returned when results are requested before any run completed.
	ErrNoRunYet = errors.New("no completed run")
)
