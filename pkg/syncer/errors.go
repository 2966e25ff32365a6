package syncer

import "errors"

var (
	// ErrAlreadyRunning is returned when Start is called on a running syncer.
	ErrAlreadyRunning = errors.New("syncer is already running")

	// ErrMissingFolderID is returned when a bulk sync is requested without a
	// watched folder. Syncing an entire drive is almost never intended.
	ErrMissingFolderID = errors.New("no drive folder id configured")

	// ErrNoContent means extraction produced no text for a file.
	ErrNoContent = errors.New("no text could be extracted")

	// ErrNoChunks means chunking non-empty text produced nothing.
	ErrNoChunks = errors.New("no chunks were created")

	// ErrNoEmbeddings means the provider returned no vectors for non-empty
	// chunks.
	ErrNoEmbeddings = errors.New("no embeddings were created")
)
