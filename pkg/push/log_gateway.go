package push

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogGateway logs notifications instead of sending them (PUSH_MODE=dev)
type LogGateway struct {
	logger *logrus.Logger
}

// NewLogGateway creates a new LogGateway
func NewLogGateway(logger *logrus.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

// SendMulticast logs the message and reports every token as delivered
func (g *LogGateway) SendMulticast(ctx context.Context, msg Message) (*SendResult, error) {
	g.logger.WithFields(logrus.Fields{
		"tokens": len(msg.Tokens),
		"body":   msg.Data["body"],
		"route":  msg.Data["routeId"],
		"link":   msg.Link,
	}).Info("[DEV MODE] Push notification")

	result := &SendResult{SuccessCount: len(msg.Tokens)}
	for _, token := range msg.Tokens {
		result.Results = append(result.Results, TokenResult{Token: token, Success: true})
	}
	return result, nil
}

// GetName returns the gateway name
func (g *LogGateway) GetName() string {
	return "log"
}
