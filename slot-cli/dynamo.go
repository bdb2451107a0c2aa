package slotcli

import (
	"fmt"
	"os"

	"github.com/aws/aws-dax-go/dax"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

type daxWrapper struct {
	*dax.Dax
}

// Dynamo returns the DynamoDB client for the configured environment. When a
// DAX endpoint is set, reads and writes are routed through the DAX cluster;
// the client satisfies the same interface either way.
func Dynamo(s *session.Session) (dynamodbiface.DynamoDBAPI, error) {
	if CommonOpts.DaxEndpoint == "" {
		return dynamodb.New(s), nil
	}

	cfg := dax.DefaultConfig()
	cfg.HostPorts = []string{CommonOpts.DaxEndpoint}
	cfg.Region = region(s)

	client, err := dax.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dax client for %v: %w", CommonOpts.DaxEndpoint, err)
	}
	return daxWrapper{Dax: client}, nil
}

func region(s *session.Session) string {
	if s != nil && s.Config != nil && aws.StringValue(s.Config.Region) != "" {
		return aws.StringValue(s.Config.Region)
	}
	return os.Getenv("AWS_REGION")
}

// The DAX library does not implement these, so it cannot be used as a
// dynamodbiface on its own. We never call them.
func (daxWrapper) DeleteResourcePolicy(*dynamodb.DeleteResourcePolicyInput) (*dynamodb.DeleteResourcePolicyOutput, error) {
	return nil, fmt.Errorf("unimplemented")
}
func (daxWrapper) DeleteResourcePolicyWithContext(aws.Context, *dynamodb.DeleteResourcePolicyInput, ...request.Option) (*dynamodb.DeleteResourcePolicyOutput, error) {
	return nil, fmt.Errorf("unimplemented")
}
func (daxWrapper) DeleteResourcePolicyRequest(*dynamodb.DeleteResourcePolicyInput) (*request.Request, *dynamodb.DeleteResourcePolicyOutput) {
	return nil, nil
}
func (daxWrapper) GetResourcePolicy(*dynamodb.GetResourcePolicyInput) (*dynamodb.GetResourcePolicyOutput, error) {
	return nil, fmt.Errorf("unimplemented")
}
func (daxWrapper) GetResourcePolicyWithContext(aws.Context, *dynamodb.GetResourcePolicyInput, ...request.Option) (*dynamodb.GetResourcePolicyOutput, error) {
	return nil, fmt.Errorf("unimplemented")
}
func (daxWrapper) GetResourcePolicyRequest(*dynamodb.GetResourcePolicyInput) (*request.Request, *dynamodb.GetResourcePolicyOutput) {
	return nil, nil
}
func (daxWrapper) PutResourcePolicy(*dynamodb.PutResourcePolicyInput) (*dynamodb.PutResourcePolicyOutput, error) {
	return nil, fmt.Errorf("unimplemented")
}
func (daxWrapper) PutResourcePolicyWithContext(aws.Context, *dynamodb.PutResourcePolicyInput, ...request.Option) (*dynamodb.PutResourcePolicyOutput, error) {
	return nil, fmt.Errorf("unimplemented")
}
func (daxWrapper) PutResourcePolicyRequest(*dynamodb.PutResourcePolicyInput) (*request.Request, *dynamodb.PutResourcePolicyOutput) {
	return nil, nil
}
