package aws

import (
	"context"
	"sync"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Clients builds service clients on first use. The shared SDK config is
// loaded at most once, so a process that only needs, say, SQS never
// touches DynamoDB settings.
type Clients struct {
	load func(context.Context) (sdkaws.Config, error)

	mu         sync.Mutex
	cfg        *sdkaws.Config
	dynamo     DynamoDBAPI
	sqs        SQSAPI
	cloudwatch CloudWatchAPI
}

// NewClients returns clients backed by LoadAWSConfig.
func NewClients() *Clients {
	return &Clients{load: LoadAWSConfig}
}

func (c *Clients) config(ctx context.Context) (sdkaws.Config, error) {
	if c.cfg != nil {
		return *c.cfg, nil
	}
	cfg, err := c.load(ctx)
	if err != nil {
		return sdkaws.Config{}, err
	}
	c.cfg = &cfg
	return cfg, nil
}

func (c *Clients) DynamoDB(ctx context.Context) (DynamoDBAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dynamo == nil {
		cfg, err := c.config(ctx)
		if err != nil {
			return nil, err
		}
		c.dynamo = dynamodb.NewFromConfig(cfg)
	}
	return c.dynamo, nil
}

func (c *Clients) SQS(ctx context.Context) (SQSAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sqs == nil {
		cfg, err := c.config(ctx)
		if err != nil {
			return nil, err
		}
		c.sqs = sqs.NewFromConfig(cfg)
	}
	return c.sqs, nil
}

func (c *Clients) CloudWatch(ctx context.Context) (CloudWatchAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cloudwatch == nil {
		cfg, err := c.config(ctx)
		if err != nil {
			return nil, err
		}
		c.cloudwatch = cloudwatch.NewFromConfig(cfg)
	}
	return c.cloudwatch, nil
}
