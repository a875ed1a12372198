package aws

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockSNSService struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *MockSNSService) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

func TestSNSAlerter_Alert(t *testing.T) {
	var got *sns.PublishInput
	mock := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			got = params
			return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
		},
	}

	alerter := NewSNSAlerterWithClient(mock, "arn:aws:sns:eu-central-1:123456789012:capsule-alerts")
	err := alerter.Alert(context.Background(), "capsule-notifier: TOKEN_SIGNING_FAILED", "run failed")
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "arn:aws:sns:eu-central-1:123456789012:capsule-alerts", aws.ToString(got.TopicArn))
	assert.Equal(t, "capsule-notifier: TOKEN_SIGNING_FAILED", aws.ToString(got.Subject))
	assert.Equal(t, "run failed", aws.ToString(got.Message))
}

func TestSNSAlerter_TruncatesSubject(t *testing.T) {
	var got *sns.PublishInput
	mock := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			got = params
			return &sns.PublishOutput{}, nil
		},
	}

	alerter := NewSNSAlerterWithClient(mock, "arn")
	require.NoError(t, alerter.Alert(context.Background(), strings.Repeat("x", 150), "m"))
	assert.Len(t, aws.ToString(got.Subject), 100)
}

func TestSNSAlerter_PublishError(t *testing.T) {
	mock := &MockSNSService{
		PublishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, errors.New("AuthorizationError")
		},
	}

	err := NewSNSAlerterWithClient(mock, "arn").Alert(context.Background(), "s", "m")
	assert.ErrorContains(t, err, "AuthorizationError")
}
