package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricSink writes count metrics to a CloudWatch namespace.
type MetricSink struct {
	client    CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// NewMetricSink returns a sink bound to namespace.
func NewMetricSink(client CloudWatchAPI, namespace string) *MetricSink {
	return &MetricSink{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// Count records value for metric with the given dimensions.
func (m *MetricSink) Count(ctx context.Context, metric string, value float64, dimensions map[string]string) error {
	datum := cwtypes.MetricDatum{
		MetricName: awsString(metric),
		Value:      &value,
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  timePtr(m.nowFunc().UTC()),
	}
	for k, v := range dimensions {
		if v == "" {
			continue
		}
		datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{
			Name:  awsString(k),
			Value: awsString(v),
		})
	}

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &m.namespace,
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}

func timePtr(t time.Time) *time.Time { return &t }
