package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"gluetrigger/internal/awsconfig"
	"gluetrigger/internal/config"
	"gluetrigger/internal/jobevents"
	"gluetrigger/internal/logger"
	"gluetrigger/internal/runarchive"
)

func main() {
	ctx := context.Background()
	log := logger.New(logger.ConfigFromEnv(config.OS, "glue-job-events"))

	cfg, err := jobevents.ConfigFromEnv(config.OS)
	if err != nil {
		log.Fatal("invalid configuration", err)
	}

	opt, err := awsconfig.OptionsFromEnv(config.OS)
	if err != nil {
		log.Fatal("invalid configuration", err)
	}
	awsCfg, err := awsconfig.Load(ctx, opt)
	if err != nil {
		log.Fatal("load aws config", err)
	}

	deps := jobevents.Deps{
		DDB: dynamodb.NewFromConfig(awsCfg),
		SNS: sns.NewFromConfig(awsCfg),
	}
	if cfg.Archive.Enabled() {
		deps.Archive = runarchive.NewWriter(cfg.Archive, s3.NewFromConfig(awsCfg))
	}

	log.Info("consumer configured",
		"runs_table", cfg.RunsTable,
		"watch_jobs", cfg.WatchJobs,
		"notify", cfg.TopicArn != "",
		"archive_bucket", cfg.Archive.Bucket,
	)

	c := jobevents.NewConsumer(cfg, deps, log)
	lambda.Start(c.Handle)
}
