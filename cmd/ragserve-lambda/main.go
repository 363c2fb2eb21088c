// ragserve-lambda serves the HTTP API behind API Gateway. Lambda freezes the
// process between invocations, so dispatch is always sync and no background
// loops are started.
package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"

	"github.com/seantiz/ragserve/internal/app"
	"github.com/seantiz/ragserve/internal/config"
)

func main() {
	cfg, err := config.Load(os.Getenv("RAGSERVE_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.Dispatch.Mode = config.ModeSync
	logger := config.NewLogger(os.Stdout, cfg.Level())

	a, err := app.Build(context.Background(), cfg, logger, app.Parts{})
	if err != nil {
		log.Fatalf("failed to build service: %v", err)
	}

	adapter := httpadapter.New(a.Server.Router())
	lambda.Start(adapter.ProxyWithContext)
}
