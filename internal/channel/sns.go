// internal/channel/sns.go
package channel

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSAPI is the slice of the SNS client the channel uses, extracted for mocking.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSChannel publishes SMS through AWS SNS. The recipient string must be a
// phone number; deployments that address users by email should front this
// with their own directory lookup.
type SNSChannel struct {
	client SNSAPI
}

func NewSNSChannel(ctx context.Context, region string) (*SNSChannel, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SNSChannel{client: sns.NewFromConfig(awsCfg)}, nil
}

func NewSNSChannelWithClient(client SNSAPI) *SNSChannel {
	return &SNSChannel{client: client}
}

func (c *SNSChannel) Name() string { return "sns-sms" }

func (c *SNSChannel) Send(ctx context.Context, msg Message) error {
	_, err := c.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(msg.Recipient),
		Message:     aws.String(msg.Subject),
	})
	return err
}
