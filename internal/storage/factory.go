package storage

import (
	"fmt"
)

// NewStore opens the chat state backend named in opts. The JSON file store
// is the only backend today; an empty type selects it.
func NewStore(opts Options) (Store, error) {
	switch opts.Type {
	case "", "file":
		if opts.FilePath == "" {
			return nil, fmt.Errorf("file storage needs a file path")
		}
		return NewFileStore(opts.FilePath)
	default:
		return nil, fmt.Errorf("unknown storage type %q, want \"file\"", opts.Type)
	}
}
