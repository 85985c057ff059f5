package push

import "context"

// Message is one notification addressed to several device tokens
type Message struct {
	Tokens []string
	Data   map[string]string
	// Link is opened when the notification is clicked
	Link string
}

// TokenResult is the delivery outcome for one token
type TokenResult struct {
	Token   string
	Success bool
	Err     error
	// Invalid is set when the provider reports the token as unregistered or malformed
	Invalid bool
}

// SendResult aggregates per-token outcomes
type SendResult struct {
	SuccessCount int
	FailureCount int
	Results      []TokenResult
}

// InvalidTokens returns the tokens the provider rejected as stale
func (r *SendResult) InvalidTokens() []string {
	if r == nil {
		return nil
	}
	var tokens []string
	for _, res := range r.Results {
		if res.Invalid {
			tokens = append(tokens, res.Token)
		}
	}
	return tokens
}

// Gateway defines the interface for delivering push notifications
type Gateway interface {
	// SendMulticast delivers msg to every token.
	// An error means the whole request failed; per-token failures are in the result.
	SendMulticast(ctx context.Context, msg Message) (*SendResult, error)

	// GetName returns the name of the gateway implementation
	GetName() string
}
