package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"

	"gluetrigger/internal/awsconfig"
	"gluetrigger/internal/config"
	"gluetrigger/internal/logger"
	"gluetrigger/internal/trigger"
)

func main() {
	ctx := context.Background()
	log := logger.New(logger.ConfigFromEnv(config.OS, "glue-job-status"))

	// JOB_NAME is the default; a request may name another job.
	jobName, err := config.Required(config.OS, trigger.EnvJobName)
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

	h, err := trigger.NewStatusHandler(jobName, trigger.NewGlueClient(awsCfg), log)
	if err != nil {
		log.Fatal("build handler", err)
	}
	lambda.Start(h.Handle)
}
