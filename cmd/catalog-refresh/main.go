package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/glue"

	"gluetrigger/internal/awsconfig"
	"gluetrigger/internal/catalog"
	"gluetrigger/internal/config"
	"gluetrigger/internal/logger"
)

func main() {
	ctx := context.Background()
	log := logger.New(logger.ConfigFromEnv(config.OS, "catalog-refresh"))

	cfg, err := catalog.ConfigFromEnv(config.OS)
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

	r := catalog.NewRefresher(cfg, glue.NewFromConfig(awsCfg), athena.NewFromConfig(awsCfg), log)
	lambda.Start(r.Handle)
}
