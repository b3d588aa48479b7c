package coordinator

import (
	"errors"
	"fmt"
)

// ErrProvider matches every ProviderError with errors.Is.
var ErrProvider = errors.New("model provider failure")

const (
	ReasonInvoke    = "invoke_failed"
	ReasonTimeout   = "timeout"
	ReasonMalformed = "malformed_response"
)

// ProviderError is the single failure the agent surfaces to its caller. The
// caller may fall back to the rules-based recommender; the agent never retries
// the provider on its own.
type ProviderError struct {
	Round  int
	Reason string
	Err    error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("model provider failure in round %d: %s", e.Round, e.Reason)
	}
	return fmt.Sprintf("model provider failure in round %d: %s: %v", e.Round, e.Reason, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// ErrMalformedResponse is wrapped by clients when a response cannot be used,
// such as a truncated or filtered completion.
var ErrMalformedResponse = errors.New("malformed model response")
