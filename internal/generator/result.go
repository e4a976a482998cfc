package generator

import "time"

// Kind classifies the outcome of a generation attempt.
type Kind int

const (
	KindOK Kind = iota
	KindMissingCredential
	KindAuthenticationFailure
	KindRateLimited
	KindUnknownFailure
)

// String returns the stable snake_case name used in JSON and logs.
func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindMissingCredential:
		return "missing_credential"
	case KindAuthenticationFailure:
		return "authentication_failure"
	case KindRateLimited:
		return "rate_limited"
	case KindUnknownFailure:
		return "unknown_failure"
	default:
		return "invalid"
	}
}

// Fixed user-facing messages for the failure kinds.
const (
	MsgMissingCredential     = "API key not found. Add an API key to your configuration or enter one in the form."
	MsgAuthenticationFailure = "Invalid API key. Check your API key and try again."
	MsgRateLimited           = "Rate limit exceeded. Please wait and try again."

	// ErrorMarker leads every failure rendered by Text.
	ErrorMarker = "**Error:** "
)

// Result is the outcome of one Generate call. Exactly one of the
// success payload (Markdown) or a failure Kind is meaningful.
type Result struct {
	Kind Kind

	// Markdown is the provider's output, unmodified. Set only for KindOK.
	Markdown string

	// Detail describes a KindUnknownFailure.
	Detail string

	// Err is the underlying error for any failure kind that came from
	// the provider call, including context deadline and cancellation.
	Err error

	Model        string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration

	// MissingSections lists required headings absent from Markdown when
	// section checking is enabled. It never changes Kind.
	MissingSections []string
}

// OK reports whether generation succeeded.
func (r Result) OK() bool {
	return r.Kind == KindOK
}

// Message returns the plain failure message, or "" on success.
func (r Result) Message() string {
	switch r.Kind {
	case KindOK:
		return ""
	case KindMissingCredential:
		return MsgMissingCredential
	case KindAuthenticationFailure:
		return MsgAuthenticationFailure
	case KindRateLimited:
		return MsgRateLimited
	default:
		return r.Detail
	}
}

// Text returns what to show the user: the markdown on success,
// otherwise the failure message behind ErrorMarker.
func (r Result) Text() string {
	if r.Kind == KindOK {
		return r.Markdown
	}
	return ErrorMarker + r.Message()
}
