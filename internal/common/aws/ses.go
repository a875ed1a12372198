// internal/common/aws/ses.go
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

type SESSender interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESAlerter e-mails operator alerts.
type SESAlerter struct {
	client SESSender
	from   string
	to     []string
}

func NewSESAlerter(ctx context.Context, region, from string, to []string) (*SESAlerter, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewSESAlerterWithClient(ses.NewFromConfig(cfg), from, to), nil
}

func NewSESAlerterWithClient(client SESSender, from string, to []string) *SESAlerter {
	return &SESAlerter{client: client, from: from, to: to}
}

func (a *SESAlerter) Alert(ctx context.Context, subject, message string) error {
	_, err := a.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{ToAddresses: a.to},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(message)},
			},
		},
		Source: aws.String(a.from),
	})
	if err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}
	return nil
}

// Alerter is implemented by SNSAlerter and SESAlerter.
type Alerter interface {
	Alert(ctx context.Context, subject, message string) error
}

// MultiAlerter sends to every channel and returns the first error.
type MultiAlerter []Alerter

func (m MultiAlerter) Alert(ctx context.Context, subject, message string) error {
	var firstErr error
	for _, a := range m {
		if err := a.Alert(ctx, subject, message); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
