package collector

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// PayloadKind tags the shape of a fetched page so the parser can dispatch
// without knowing which portal produced it.
type PayloadKind int

const (
	PayloadTabular PayloadKind = iota
	PayloadSpreadsheet
	PayloadStructured
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadTabular:
		return "tabular"
	case PayloadSpreadsheet:
		return "spreadsheet"
	case PayloadStructured:
		return "structured"
	default:
		return "unknown"
	}
}

// RawPayload is one fetched page in its tagged variant. Exactly one of the
// value fields is populated, selected by Kind.
type RawPayload struct {
	Kind        PayloadKind
	HTML        string
	Spreadsheet []byte
	Structured  any
}

// RawRecord is an untyped tuple extracted by the parser, before validation.
type RawRecord struct {
	IP            string
	DetectionDate string
	Country       string
	Reason        string
	Extra         map[string]string
}

// Credentials authenticate against one portal.
type Credentials struct {
	Username string
	Password string
}

// Session is the handle an adapter returns after login. Adapters keep no
// state beyond it; the cookie jar inside the client carries the portal
// session.
type Session struct {
	Client    *http.Client
	Token     string
	Source    string
	CreatedAt time.Time
}

// DateRange bounds one collection run.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// SourceAdapter is implemented once per external portal. Authenticate must
// not retry on its own; the orchestrator owns the retry and protection
// policy. Fetch returns one page of the date range; the orchestrator stops
// paginating when a page comes back short.
type SourceAdapter interface {
	Name() string
	Authenticate(ctx context.Context, creds Credentials) (*Session, error)
	Fetch(ctx context.Context, session *Session, dateRange DateRange, page int) (RawPayload, error)
}

// AuthError marks bad credentials or an expired session. Never retried;
// every occurrence feeds the protection guard's failure counter.
type AuthError struct {
	Source string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Source, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError wraps transport failures and timeouts; the orchestrator
// retries these a bounded number of times with backoff.
type NetworkError struct {
	Source string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error for %s: %v", e.Source, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError marks a payload whose shape was not recognized at all.
// Retrying cannot help, so the run fails immediately with the raw cause
// preserved for diagnosis.
type ParseError struct {
	Kind PayloadKind
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable %s payload: %v", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
