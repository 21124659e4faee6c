package obs

import (
	"context"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// cwClient is nil until InitCloudWatch succeeds; PublishMetric calls become
// no-ops until then.
var cwClient atomic.Pointer[cloudwatch.Client]

var cwNamespace = "OISurveillance"

// InitCloudWatch loads the default AWS config for region and wires a
// CloudWatch client used by PublishMetric. Failure to load credentials is
// logged and leaves publishing disabled; it is never fatal.
func InitCloudWatch(ctx context.Context, log *Log, region, namespace string) {
	if namespace != "" {
		cwNamespace = namespace
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithComponent("cloudwatch").WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	cwClient.Store(cloudwatch.NewFromConfig(cfg))
	log.WithComponent("cloudwatch").WithField("namespace", cwNamespace).Info("CloudWatch publishing enabled")
}

// PublishMetric best-effort publishes one metric datum to CloudWatch.
// No-op when InitCloudWatch was never called or failed.
func PublishMetric(ctx context.Context, log *Log, m Metric) {
	client := cwClient.Load()
	if client == nil {
		return
	}
	value, ok := toFloat64(m.Value)
	if !ok {
		return
	}

	dims := []cwtypes.Dimension{{Name: aws.String("component"), Value: aws.String(m.Component)}}
	for k, v := range m.Fields {
		if s, ok := v.(string); ok && s != "" {
			dims = append(dims, cwtypes.Dimension{Name: aws.String(k), Value: aws.String(s)})
		}
	}

	unit := cwtypes.StandardUnitCount
	if m.Type == "gauge" {
		unit = cwtypes.StandardUnitNone
	}

	_, err := client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(cwNamespace),
		MetricData: []cwtypes.MetricDatum{{
			MetricName: aws.String(m.Name),
			Dimensions: dims,
			Unit:       unit,
			Value:      aws.Float64(value),
		}},
	})
	if err != nil {
		log.WithComponent("cloudwatch").WithError(err).Debug("failed to publish metric")
	}
}

// RegisterCloudWatchHandler wires PublishMetric as a metric handler so
// every EmitMetric call is mirrored to CloudWatch without the hot path
// knowing CloudWatch exists.
func RegisterCloudWatchHandler(ctx context.Context, log *Log) HandlerID {
	return RegisterMetricHandler(func(m Metric) {
		PublishMetric(ctx, log, m)
	})
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
