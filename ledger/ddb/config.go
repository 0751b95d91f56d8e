package ddb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// NewLedgerFromDefaultConfig resolves the ambient AWS configuration
// (environment, shared config, IMDS) and creates a Ledger.
func NewLedgerFromDefaultConfig(ctx context.Context, tableName string, optFns ...func(*config.LoadOptions) error) (*Ledger, error) {
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, err
	}

	return NewLedger(dynamodb.NewFromConfig(cfg), tableName), nil
}
