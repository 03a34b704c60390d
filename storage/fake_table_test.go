package storage

import (
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/storage/storagetest"
)

type fakeTable = storagetest.Table

func newFakeTable() *fakeTable { return storagetest.NewTable() }

func respErr(code int, errCode string) *azcore.ResponseError {
	return storagetest.ResponseError(code, errCode)
}
