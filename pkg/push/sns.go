package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSPublisher is the part of the SNS client used by SNS.
type SNSPublisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS sends mobile notifications through platform endpoints registered in
// Amazon SNS.
type SNS struct {
	api SNSPublisher
}

// NewSNS wraps an existing client.
func NewSNS(api SNSPublisher) *SNS { return &SNS{api: api} }

// NewSNSFromRegion loads the default AWS config for region.
func NewSNSFromRegion(ctx context.Context, region string) (*SNS, error) {
	if region == "" {
		region = "ap-south-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return NewSNS(sns.NewFromConfig(cfg)), nil
}

func (s *SNS) Push(ctx context.Context, sub Subscription, msg Message) error {
	if sub.Empty() {
		return errors.New("sns: empty endpoint")
	}

	data := make(map[string]string, len(msg.Data))
	for k, v := range msg.Data {
		data[k] = fmt.Sprint(v)
	}
	gcm, err := json.Marshal(map[string]any{
		"notification": map[string]string{"title": msg.Title, "body": msg.Body, "icon": msg.Icon},
		"data":         data,
	})
	if err != nil {
		return err
	}
	envelope, err := json.Marshal(map[string]string{
		"default": msg.Body,
		"GCM":     string(gcm),
	})
	if err != nil {
		return err
	}

	_, err = s.api.Publish(ctx, &sns.PublishInput{
		MessageStructure: aws.String("json"),
		Message:          aws.String(string(envelope)),
		TargetArn:        aws.String(sub.Endpoint),
	})
	if err != nil {
		var disabled *snstypes.EndpointDisabledException
		var missing *snstypes.NotFoundException
		if errors.As(err, &disabled) || errors.As(err, &missing) {
			return ErrSubscriptionGone
		}
		return fmt.Errorf("sns: publish: %w", err)
	}
	return nil
}
