package awsconfig

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-xray-sdk-go/instrumentation/awsv2"

	appconfig "gluetrigger/internal/config"
)

type Options struct {
	Region  string
	Tracing bool
}

// OptionsFromEnv reads AWS_REGION and AWS_XRAY_TRACING.
func OptionsFromEnv(env appconfig.Env) (Options, error) {
	tracing, err := appconfig.Bool(env, "AWS_XRAY_TRACING", false)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Region:  appconfig.String(env, "AWS_REGION", ""),
		Tracing: tracing,
	}, nil
}

// Load resolves credentials from the Lambda execution role (or the local
// default chain) and, when tracing is on, records every SDK call as an
// X-Ray subsegment.
func Load(ctx context.Context, opt Options) (aws.Config, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opt.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opt.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}

	if opt.Tracing {
		awsv2.AWSV2Instrumentor(&cfg.APIOptions)
	}
	return cfg, nil
}
