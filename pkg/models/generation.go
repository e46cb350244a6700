package models

import "time"

// ErrorKind classifies how a generation attempt settled.
type ErrorKind int

const (
	// KindNone means the request produced text.
	KindNone ErrorKind = iota
	// KindExhausted means every configured credential failed transiently.
	KindExhausted
	// KindBadRequest means the provider rejected the request itself;
	// retrying with another credential cannot fix it.
	KindBadRequest
	// KindParseError means a 2xx response did not carry a usable payload.
	KindParseError
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindExhausted:
		return "exhausted"
	case KindBadRequest:
		return "bad_request"
	case KindParseError:
		return "parse_error"
	}
	return "unknown"
}

// GenerationRequest describes one call through the gateway. TTL is the
// cache lifetime for the response and is chosen per request class by
// the caller; it does not participate in the fingerprint.
type GenerationRequest struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
	TopP        float64
	TopK        int
	TTL         time.Duration
}

// GenerationResult is the gateway's uniform outcome type. Text is set
// iff Kind == KindNone.
type GenerationResult struct {
	Text            string
	Kind            ErrorKind
	ServedFromCache bool
	Truncated       bool
	Attempts        int
}

// OK reports whether the result carries usable text.
func (r GenerationResult) OK() bool {
	return r.Kind == KindNone
}
