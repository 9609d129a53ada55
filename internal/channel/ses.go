// internal/channel/ses.go
package channel

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAPI is the slice of the SES client the channel uses, extracted for mocking.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESChannel sends email through AWS SES. The body is produced by BodyFunc;
// the default formatter lists the template name and context fields as plain
// text, since real rendering lives outside the engine.
type SESChannel struct {
	client    SESAPI
	fromEmail string
	bodyFunc  func(Message) string
}

func NewSESChannel(ctx context.Context, region, fromEmail string) (*SESChannel, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &SESChannel{
		client:    ses.NewFromConfig(awsCfg),
		fromEmail: fromEmail,
		bodyFunc:  plainBody,
	}, nil
}

// NewSESChannelWithClient builds the channel around an existing client,
// used by tests and callers with custom AWS wiring.
func NewSESChannelWithClient(client SESAPI, fromEmail string) *SESChannel {
	return &SESChannel{client: client, fromEmail: fromEmail, bodyFunc: plainBody}
}

// SetBodyFunc overrides the default plain-text body formatter.
func (c *SESChannel) SetBodyFunc(f func(Message) string) {
	c.bodyFunc = f
}

func (c *SESChannel) Name() string { return "ses-email" }

func (c *SESChannel) Send(ctx context.Context, msg Message) error {
	body := c.bodyFunc(msg)
	_, err := c.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{msg.Recipient},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(c.fromEmail),
	})
	return err
}

func plainBody(msg Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Template: %s\n", msg.TemplateName)
	keys := make([]string, 0, len(msg.Context))
	for k := range msg.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, msg.Context[k])
	}
	return b.String()
}
