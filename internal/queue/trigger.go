// Package queue publishes scheduler trigger messages to SQS. The worker
// consumes them; each message requests exactly one poll pass.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"dripline/internal/types"
)

// SQSAPI is the subset of the SQS client the trigger publisher uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// PassTrigger publishes run-pass requests to the scheduler trigger queue.
type PassTrigger struct {
	client   SQSAPI
	queueURL string
	logger   *slog.Logger
}

// NewPassTrigger creates a PassTrigger for the given queue URL.
func NewPassTrigger(client SQSAPI, queueURL string, logger *slog.Logger) *PassTrigger {
	if logger == nil {
		logger = slog.Default()
	}
	return &PassTrigger{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Publish enqueues one pass trigger and returns its trigger ID. The worker
// holds the real mutual exclusion (the advisory pass lock); duplicate
// triggers are harmless and collapse into conflict_pass_in_progress.
func (t *PassTrigger) Publish(ctx context.Context, source string) (string, error) {
	msg := types.PassTriggerMessage{
		TriggerID:   "trg_" + uuid.New().String(),
		RequestedAt: time.Now().UTC(),
		Source:      source,
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal pass trigger", err)
	}

	_, err = t.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(t.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to publish pass trigger", err)
	}

	t.logger.InfoContext(ctx, "pass trigger published",
		"trigger_id", msg.TriggerID,
		"source", source,
	)
	return msg.TriggerID, nil
}
