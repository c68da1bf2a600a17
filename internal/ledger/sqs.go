package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/ignite/lead-router/internal/domain"
	"github.com/ignite/lead-router/internal/pkg/logger"
)

// SQSAPI is the subset of *sqs.Client used by SQSSink.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSink publishes ledger entries to an SQS queue for downstream
// accounting consumers.
type SQSSink struct {
	client   SQSAPI
	queueURL string
	wg       sync.WaitGroup
}

// NewSQSSink creates a sink for queueURL.
func NewSQSSink(client SQSAPI, queueURL string) *SQSSink {
	return &SQSSink{client: client, queueURL: queueURL}
}

// Publish sends e in the background.
func (p *SQSSink) Publish(_ context.Context, e domain.LedgerEntry) {
	body, err := json.Marshal(e)
	if err != nil {
		logger.Error("failed to marshal ledger entry", "entry_id", e.ID, "error", err)
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    aws.String(p.queueURL),
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"outcome": {DataType: aws.String("String"), StringValue: aws.String(string(e.Outcome))},
			},
		})
		if err != nil {
			logger.Error("failed to publish ledger entry", "entry_id", e.ID, "error", err)
		}
	}()
}

// Close waits for in-flight publishes.
func (p *SQSSink) Close() {
	p.wg.Wait()
}
