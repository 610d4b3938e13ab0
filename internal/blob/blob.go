// Package blob abstracts the attachment object store: upload a payload under
// a key, get back a durable URL.
package blob

import "context"

type Store interface {
	// Put writes the payload and returns the public URL of the stored object.
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}
