package metrics

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"liqflow/logger"
)

type cloudWatchState struct {
	client    *cloudwatch.Client
	namespace string
	region    string
}

var cwState atomic.Pointer[cloudWatchState]

func init() {
	cwState.Store(&cloudWatchState{namespace: "Liqflow"})
}

// InitCloudWatch initialises the CloudWatch client using the provided region
// and namespace. When the client cannot be created the function logs a warning
// and metric publishing stays disabled; local structured-log metrics continue.
func InitCloudWatch(region, namespace string) {
	log := logger.GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	ctx := context.Background()
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	state := cloudWatchState{client: cloudwatch.NewFromConfig(cfg)}
	state.namespace = "Liqflow"
	if namespace != "" {
		state.namespace = namespace
	}
	if cfg.Region != "" {
		state.region = cfg.Region
	} else {
		state.region = region
	}
	cwState.Store(&state)

	log.WithFields(logger.Fields{
		"region":    state.region,
		"namespace": state.namespace,
	}).Info("initialized CloudWatch client")
}

// EmitMetric logs the metric locally, fans it out to registered handlers and
// publishes it to CloudWatch when configured.
func EmitMetric(log *logger.Log, component string, metric string, value interface{}, metricType string, fields logger.Fields) {
	metricEvent, ok := recordMetric(log, component, metric, value, metricType, fields)
	if !ok {
		return
	}

	numericValue, ok := toFloat64(metricEvent.Value)
	if !ok {
		logger.GetLogger().WithComponent("cloudwatch").WithFields(logger.Fields{
			"metric": metricEvent.Name,
		}).Debug("non-numeric metric value; skipping publish")
		return
	}

	publishMetricDatum(context.Background(), metricEvent.Component, metricEvent.Name, numericValue, metricEvent.Fields)
}

func publishMetricDatum(ctx context.Context, component, name string, value float64, fields logger.Fields) {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(component)}}
	for k, v := range fields {
		if s, ok := v.(string); ok {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(state.namespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: aws.String(name),
			Dimensions: dims,
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(value),
		}},
	}

	if _, err := state.client.PutMetricData(ctx, input); err != nil {
		logger.GetLogger().WithComponent("cloudwatch").WithError(err).Warn("failed to publish CloudWatch metric")
	}
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}
