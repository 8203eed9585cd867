package port

import "context"

// Collection keys of the persisted state.
const (
	KeyItems     = "items"
	KeySuppliers = "suppliers"
	KeyCustomers = "customers"
	KeyPurchases = "purchases"
	KeySales     = "sales"
	KeySettings  = "settings"
)

var AllKeys = []string{KeyItems, KeySuppliers, KeyCustomers, KeyPurchases, KeySales, KeySettings}

type CollectionStore interface {
	// Read returns the raw payload stored under key, ok is false when absent
	Read(ctx context.Context, key string) (payload []byte, ok bool, err error)

	// Write replaces the payload stored under key
	Write(ctx context.Context, key string, payload []byte) error

	// RemoveAll deletes every listed key, used only by data reset
	RemoveAll(ctx context.Context, keys []string) error
}
