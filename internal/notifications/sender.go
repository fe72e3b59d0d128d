package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"firebase.google.com/go/v4/messaging"
)

// Sender delivers one message to many tokens in a single logical send.
// A returned error means the call itself failed; per-token failures are
// reported in the outcome.
type Sender interface {
	SendBulk(ctx context.Context, msg Message, tokens []string) (*DispatchOutcome, error)
}

// --------------------------------------------------------------------------
// FCM
// --------------------------------------------------------------------------

// Multicaster is the part of *messaging.Client used here.
type Multicaster interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMSender sends push notifications via Firebase Cloud Messaging.
type FCMSender struct {
	client Multicaster
	logger *slog.Logger
}

// NewFCMSender wraps a messaging client (normally *messaging.Client).
func NewFCMSender(client Multicaster, logger *slog.Logger) *FCMSender {
	return &FCMSender{client: client, logger: logger}
}

// SendBulk calls SendEachForMulticast, splitting into chunks of at most
// fcmMulticastLimit tokens. Chunk outcomes are merged in token order. If a
// chunk fails at the call level the outcome so far is returned with the
// error; earlier chunks have already been delivered.
func (s *FCMSender) SendBulk(ctx context.Context, msg Message, tokens []string) (*DispatchOutcome, error) {
	if len(tokens) == 0 {
		return nil, errors.New("no tokens to send to")
	}

	out := &DispatchOutcome{Responses: make([]TokenResult, 0, len(tokens))}
	for start := 0; start < len(tokens); start += fcmMulticastLimit {
		chunk := tokens[start:min(start+fcmMulticastLimit, len(tokens))]
		resp, err := s.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens: chunk,
			Notification: &messaging.Notification{
				Title: msg.Title,
				Body:  msg.Body,
			},
		})
		if err != nil {
			return out, fmt.Errorf("fcm multicast (%d tokens): %w", len(chunk), err)
		}
		out.merge(fromBatchResponse(chunk, resp))
	}

	s.logger.Debug("FCM multicast sent",
		"tokens", len(tokens), "success", out.SuccessCount, "failure", out.FailureCount)
	return out, nil
}

func fromBatchResponse(tokens []string, resp *messaging.BatchResponse) *DispatchOutcome {
	out := &DispatchOutcome{
		SuccessCount: resp.SuccessCount,
		FailureCount: resp.FailureCount,
		Responses:    make([]TokenResult, 0, len(resp.Responses)),
	}
	for i, r := range resp.Responses {
		tr := TokenResult{Success: r.Success, MessageID: r.MessageID}
		if i < len(tokens) {
			tr.Token = tokens[i]
		}
		if r.Error != nil {
			tr.Error = r.Error.Error()
		}
		out.Responses = append(out.Responses, tr)
	}
	return out
}

// --------------------------------------------------------------------------
// Log-only sender
// --------------------------------------------------------------------------

// LogSender is used when no Firebase credentials are configured. It logs the
// send and reports every token as delivered.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a log-only sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// SendBulk logs the message and succeeds for every token.
func (s *LogSender) SendBulk(_ context.Context, msg Message, tokens []string) (*DispatchOutcome, error) {
	if len(tokens) == 0 {
		return nil, errors.New("no tokens to send to")
	}
	s.logger.Info("FCM send (log only, no credentials)",
		"tokens", len(tokens), "title", msg.Title, "body", msg.Body)

	out := &DispatchOutcome{SuccessCount: len(tokens), Responses: make([]TokenResult, len(tokens))}
	for i, tok := range tokens {
		out.Responses[i] = TokenResult{Token: tok, Success: true, MessageID: fmt.Sprintf("log-%d", i)}
	}
	return out, nil
}
