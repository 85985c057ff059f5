package push

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/messaging"
)

// multicastSender is the part of *messaging.Client the gateway uses
type multicastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMGateway implements Gateway with Firebase Cloud Messaging
type FCMGateway struct {
	client multicastSender
}

// NewFCMGateway creates a new FCMGateway
func NewFCMGateway(client *messaging.Client) *FCMGateway {
	return &FCMGateway{client: client}
}

// SendMulticast sends a data message with a web push click link
func (g *FCMGateway) SendMulticast(ctx context.Context, msg Message) (*SendResult, error) {
	if len(msg.Tokens) == 0 {
		return &SendResult{}, nil
	}

	multicast := &messaging.MulticastMessage{
		Tokens: msg.Tokens,
		Data:   msg.Data,
	}
	if msg.Link != "" {
		multicast.Webpush = &messaging.WebpushConfig{
			FCMOptions: &messaging.WebpushFCMOptions{Link: msg.Link},
		}
	}

	response, err := g.client.SendEachForMulticast(ctx, multicast)
	if err != nil {
		return nil, fmt.Errorf("fcm multicast failed: %w", err)
	}

	result := &SendResult{
		SuccessCount: response.SuccessCount,
		FailureCount: response.FailureCount,
		Results:      make([]TokenResult, 0, len(response.Responses)),
	}
	for i, item := range response.Responses {
		if i >= len(msg.Tokens) {
			break
		}
		tr := TokenResult{Token: msg.Tokens[i], Success: item.Success, Err: item.Error}
		if !item.Success && item.Error != nil {
			tr.Invalid = messaging.IsUnregistered(item.Error) || messaging.IsInvalidArgument(item.Error)
		}
		result.Results = append(result.Results, tr)
	}
	return result, nil
}

// GetName returns the gateway name
func (g *FCMGateway) GetName() string {
	return "fcm"
}
