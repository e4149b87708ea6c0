package fetch

import (
	"fmt"
	"time"

	errs "harvester/pkg/errors"
)

// Kind tags the variant of an Outcome
type Kind int

const (
	KindSuccess Kind = iota
	KindRateLimited
	KindClientError
	KindServerError
	KindNetworkError
	KindInvalid
	// KindExhausted is the soft failure returned once retries run out
	KindExhausted
	// KindCanceled means the caller stopped waiting before a request was sent
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRateLimited:
		return "rate_limited"
	case KindClientError:
		return "client_error"
	case KindServerError:
		return "server_error"
	case KindNetworkError:
		return "network_error"
	case KindInvalid:
		return "invalid"
	case KindExhausted:
		return "exhausted"
	case KindCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the classified result of a fetch
type Outcome struct {
	Kind Kind
	// Content and FinalURL are set on success
	Content  []byte
	FinalURL string
	// StatusCode of the last response, 0 when none was received
	StatusCode int
	// RetryAfter is the server supplied delay of a 429 response
	RetryAfter time.Duration
	// Reason explains an Invalid outcome
	Reason string
	// Err holds the transport error of a network failure
	Err error
	// Attempts counts requests actually sent
	Attempts int
	// Last is the transient kind that exhausted the retries
	Last Kind
}

// OK reports a usable response
func (o Outcome) OK() bool {
	return o.Kind == KindSuccess
}

// Transient reports outcomes worth another attempt
func (o Outcome) Transient() bool {
	switch o.Kind {
	case KindRateLimited, KindServerError, KindNetworkError:
		return true
	}
	return false
}

// Permanent reports outcomes that will not change for this target
func (o Outcome) Permanent() bool {
	return o.Kind == KindClientError || o.Kind == KindInvalid
}

// Error converts a non-success outcome into a classified error
func (o Outcome) Error() error {
	switch o.Kind {
	case KindSuccess:
		return nil
	case KindRateLimited:
		return &errs.Error{Type: errs.ErrorTypeRateLimit, Code: o.StatusCode, Message: "rate limited"}
	case KindServerError:
		return &errs.Error{Type: errs.ErrorTypeServerError, Code: o.StatusCode, Message: "server error"}
	case KindNetworkError:
		return &errs.Error{Type: errs.ErrorTypeNetwork, Message: "request failed", Err: o.Err}
	case KindClientError:
		return &errs.Error{Type: errs.FromStatusCode(o.StatusCode), Code: o.StatusCode, Message: "client error"}
	case KindInvalid:
		return &errs.Error{Type: errs.ErrorTypeInvalid, Code: o.StatusCode, Message: o.Reason}
	case KindExhausted:
		return &errs.Error{
			Type:    errs.ErrorTypeExhausted,
			Code:    o.StatusCode,
			Message: fmt.Sprintf("gave up after %d attempts, last outcome %s", o.Attempts, o.Last),
			Err:     o.Err,
		}
	default:
		return &errs.Error{Type: errs.ErrorTypeUnknown, Message: o.Kind.String(), Err: o.Err}
	}
}
