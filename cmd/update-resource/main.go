// Package main implements the update-resource API Gateway Lambda.
// In-place reconfiguration of a tenant stack is not supported yet; the
// endpoint exists so the API surface is complete and returns 501.
package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
)

func handle(ctx context.Context, request events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return events.APIGatewayProxyResponse{
		StatusCode: 501,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       `{"error":"update is not implemented"}`,
	}, nil
}

func main() {
	lambda.Start(handle)
}
