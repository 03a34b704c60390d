// Package storagetest provides an in-memory Azure table for tests of code
// built on the storage package.
package storagetest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
)

type row struct {
	data []byte
	etag string
}

// Table keeps entities in memory and answers with the same status codes as
// Table Storage: 409 on duplicate inserts, 404 on missing rows, 412 on a
// stale ETag. Transactions commit all actions or none.
type Table struct {
	mu    sync.Mutex
	rows  map[string]row
	seq   int
	calls []string

	// FailAll is returned by every single-entity operation when set.
	FailAll error
	// FailTx is returned by SubmitTransaction when set.
	FailTx error
}

func NewTable() *Table { return &Table{rows: map[string]row{}} }

// ResponseError builds the error the Azure SDK returns for a failed request.
func ResponseError(code int, errCode string) *azcore.ResponseError {
	req := &http.Request{Method: http.MethodPost, URL: &url.URL{Scheme: "https", Host: "fake.table.core.windows.net", Path: "/"}}
	return &azcore.ResponseError{
		StatusCode:  code,
		ErrorCode:   errCode,
		RawResponse: &http.Response{StatusCode: code, Status: http.StatusText(code), Request: req},
	}
}

func rowKeys(entity []byte) (string, string) {
	var e struct {
		PartitionKey string
		RowKey       string
	}
	_ = json.Unmarshal(entity, &e)
	return e.PartitionKey, e.RowKey
}

func key(pk, rk string) string { return pk + "|" + rk }

func (t *Table) nextETag() string {
	t.seq++
	return "W/\"" + strconv.Itoa(t.seq) + "\""
}

// Has reports whether the row exists.
func (t *Table) Has(pk, rk string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.rows[key(pk, rk)]
	return ok
}

// Count returns the number of stored rows.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

// RowKeys lists the row keys stored in a partition, sorted.
func (t *Table) RowKeys(pk string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for k := range t.rows {
		if p, rk, ok := strings.Cut(k, "|"); ok && p == pk {
			out = append(out, rk)
		}
	}
	sort.Strings(out)
	return out
}

// Calls lists the operations received so far: add, get, upsert, update, tx.
func (t *Table) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

func (t *Table) add(rows map[string]row, entity []byte) error {
	pk, rk := rowKeys(entity)
	k := key(pk, rk)
	if _, ok := rows[k]; ok {
		return ResponseError(http.StatusConflict, string(aztables.EntityAlreadyExists))
	}
	rows[k] = row{data: append([]byte(nil), entity...), etag: t.nextETag()}
	return nil
}

func (t *Table) update(rows map[string]row, entity []byte, ifMatch *azcore.ETag) error {
	pk, rk := rowKeys(entity)
	k := key(pk, rk)
	cur, ok := rows[k]
	if !ok {
		return ResponseError(http.StatusNotFound, "ResourceNotFound")
	}
	if ifMatch != nil && *ifMatch != azcore.ETagAny && string(*ifMatch) != cur.etag {
		return ResponseError(http.StatusPreconditionFailed, "UpdateConditionNotSatisfied")
	}
	rows[k] = row{data: append([]byte(nil), entity...), etag: t.nextETag()}
	return nil
}

func (t *Table) upsert(rows map[string]row, entity []byte) {
	pk, rk := rowKeys(entity)
	rows[key(pk, rk)] = row{data: append([]byte(nil), entity...), etag: t.nextETag()}
}

func (t *Table) AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, "add")
	if t.FailAll != nil {
		return aztables.AddEntityResponse{}, t.FailAll
	}
	return aztables.AddEntityResponse{}, t.add(t.rows, entity)
}

func (t *Table) GetEntity(ctx context.Context, pk string, rk string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, "get")
	if t.FailAll != nil {
		return aztables.GetEntityResponse{}, t.FailAll
	}
	r, ok := t.rows[key(pk, rk)]
	if !ok {
		return aztables.GetEntityResponse{}, ResponseError(http.StatusNotFound, "ResourceNotFound")
	}
	return aztables.GetEntityResponse{ETag: azcore.ETag(r.etag), Value: r.data}, nil
}

func (t *Table) UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, "upsert")
	if t.FailAll != nil {
		return aztables.UpsertEntityResponse{}, t.FailAll
	}
	t.upsert(t.rows, entity)
	return aztables.UpsertEntityResponse{}, nil
}

func (t *Table) UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, "update")
	if t.FailAll != nil {
		return aztables.UpdateEntityResponse{}, t.FailAll
	}
	var ifMatch *azcore.ETag
	if options != nil {
		ifMatch = options.IfMatch
	}
	return aztables.UpdateEntityResponse{}, t.update(t.rows, entity, ifMatch)
}

// SubmitTransaction applies every action to a copy and commits only when all
// of them succeed.
func (t *Table) SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, tc *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, "tx")
	if t.FailTx != nil {
		return aztables.TransactionResponse{}, t.FailTx
	}
	staged := make(map[string]row, len(t.rows))
	for k, v := range t.rows {
		staged[k] = v
	}
	for _, a := range actions {
		var err error
		switch a.ActionType {
		case aztables.TransactionTypeAdd:
			err = t.add(staged, a.Entity)
		case aztables.TransactionTypeUpdateReplace, aztables.TransactionTypeUpdateMerge:
			err = t.update(staged, a.Entity, a.IfMatch)
		default:
			t.upsert(staged, a.Entity)
		}
		if err != nil {
			return aztables.TransactionResponse{}, err
		}
	}
	t.rows = staged
	return aztables.TransactionResponse{}, nil
}
