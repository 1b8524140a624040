package syncengine

import "context"

// Store is the persistence port consumed by the core (spec.md §4.4, §6.1).
// Implementations must serialize mutating operations through a single
// lock guarding the underlying database handle.
type Store interface {
	ListConnections(ctx context.Context) ([]*Connection, error)
	GetConnection(ctx context.Context, id int64) (*Connection, error)
	CreateConnection(ctx context.Context, c *Connection) (int64, error)
	UpdateConnection(ctx context.Context, c *Connection) error
	DeleteConnection(ctx context.Context, id int64) error
	UpdateStatus(ctx context.Context, id int64, status Status, lastError string) error

	AddLog(ctx context.Context, connectionID *int64, logType LogType, path, message string) error
	GetLogs(ctx context.Context, connectionID int64, limit int) ([]*LogEntry, error)

	LoadSyncState(ctx context.Context, connectionID int64) (SyncState, error)
	SaveSyncState(ctx context.Context, connectionID int64, state SyncState) error

	GetSettings(ctx context.Context) (map[string]any, error)
	UpdateSettings(ctx context.Context, values map[string]any) error
}

// RemoteFS is the SFTP port consumed by the core (spec.md §4.5, §6.3). A
// session is scoped to one cycle: Open returns a ready-to-use session and
// Close releases its transport.
type RemoteFS interface {
	Open(ctx context.Context, c *Connection) (RemoteSession, error)
}

// RemoteSession is one opened SFTP session.
type RemoteSession interface {
	// ListRecursive ensures remoteRoot exists (creating it and parents if
	// necessary), walks it, and returns a map of POSIX-relative path to
	// metadata for every regular file found.
	ListRecursive(ctx context.Context, remoteRoot string) (Snapshot, error)
	// EnsureParentDirs creates the parent directories of remotePath.
	EnsureParentDirs(ctx context.Context, remotePath string) error
	UploadFile(ctx context.Context, localPath, remotePath string) error
	DownloadFile(ctx context.Context, remotePath, localPath string) error
	// DeletePath removes a file, or recursively removes a directory and
	// its contents. Missing paths are a no-op.
	DeletePath(ctx context.Context, remotePath string) error
	Close() error
}

// Watcher is the filesystem-event port consumed by the core (spec.md §4.1,
// §6.4). Start begins observing root recursively, invoking onDirty with a
// path relative to root (POSIX separators) for every file-level event.
// Stop releases any resources; it is safe to call more than once.
type Watcher interface {
	Start(root string, onDirty func(relPath string)) error
	Stop() error
}
