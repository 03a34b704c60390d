package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

// Logical table names used as keys by the dual writer and as marker scopes.
const (
	TableOrders    = "orders"
	TablePayments  = "payments"
	TableInventory = "inventory"
)

// TableClient is the subset of *aztables.Client used by this package.
type TableClient interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey string, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	SubmitTransaction(ctx context.Context, transactionActions []aztables.TransactionAction, tc *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// TableNames maps the logical tables to their physical names.
type TableNames struct {
	Orders      string
	Payments    string
	Inventory   string
	Idempotency string
}

// Tables holds one client per table.
type Tables struct {
	Orders      *aztables.Client
	Payments    *aztables.Client
	Inventory   *aztables.Client
	Idempotency *aztables.Client

	svc   *aztables.ServiceClient
	names TableNames
}

// New creates table clients from the given connection string.
func New(connStr string, names TableNames) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{
		Orders:      svc.NewClient(names.Orders),
		Payments:    svc.NewClient(names.Payments),
		Inventory:   svc.NewClient(names.Inventory),
		Idempotency: svc.NewClient(names.Idempotency),
		svc:         svc,
		names:       names,
	}, nil
}

// Domain returns the domain tables keyed by logical name.
func (t *Tables) Domain() map[string]TableClient {
	return map[string]TableClient{
		TableOrders:    t.Orders,
		TablePayments:  t.Payments,
		TableInventory: t.Inventory,
	}
}

// EnsureTables creates every configured table, ignoring ones that exist.
func (t *Tables) EnsureTables(ctx context.Context) error {
	for _, name := range []string{t.names.Orders, t.names.Payments, t.names.Inventory, t.names.Idempotency} {
		if name == "" {
			continue
		}
		if _, err := t.svc.NewClient(name).CreateTable(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
	}
	return nil
}

func statusCode(err error) (int, string) {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode, respErr.ErrorCode
	}
	return 0, ""
}

func isConflict(err error) bool {
	code, errCode := statusCode(err)
	return code == 409 || errCode == string(aztables.EntityAlreadyExists)
}

func isNotFound(err error) bool {
	code, _ := statusCode(err)
	return code == 404
}

func isPreconditionFailed(err error) bool {
	code, errCode := statusCode(err)
	return code == 412 || errCode == "UpdateConditionNotSatisfied"
}
