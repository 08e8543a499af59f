package blob

import "fmt"

// ErrNotFound is returned when no content has been put under the given id.
var ErrNotFound = fmt.Errorf("blob: not found")

// Store is the content surface the Kernel's Context Store uses to hold each
// segment's full bytes under its segment id. The Kernel also carries those
// bytes in the segment's ContextAppend WAL record and copies every stored
// blob into each checkpoint snapshot, whichever Store is configured.
type Store interface {
	Put(id string, data []byte) error
	Get(id string) ([]byte, error)
	Delete(id string) error
}
