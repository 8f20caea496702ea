package tasking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/database"
)

// CommandStore records issued commands. The status store only needs it to
// find which stream a command was issued on and to cascade stream deletes.
type CommandStore struct {
	db     *database.DB
	scope  uint32
	logger Logger
}

// NewCommandStore creates a command store on db.
func NewCommandStore(db *database.DB, opts Options) *CommandStore {
	return &CommandStore{db: db, scope: opts.Scope, logger: noopLogger{}}
}

// SetLogger sets the logger for the store.
func (c *CommandStore) SetLogger(logger Logger) {
	c.logger = logger
}

func (c *CommandStore) checkScope(key Key) error {
	if key.Scope != c.scope {
		return fmt.Errorf("%w: key %s, store scope %d", ErrWrongScope, key, c.scope)
	}
	return nil
}

// Add stores a command and returns its key.
func (c *CommandStore) Add(ctx context.Context, cmd *Command) (Key, error) {
	if err := ValidateCommand(cmd); err != nil {
		return Key{}, err
	}
	data, err := encodeCommand(cmd)
	if err != nil {
		return Key{}, backendError("add command", Key{}, err)
	}

	var id int64
	err = c.db.QueryRowContext(ctx,
		"INSERT INTO "+commandsTable+" (stream_id, issue_time, data) VALUES (?, ?, ?) RETURNING id",
		cmd.StreamID.ID, normalizeTime(cmd.IssueTime).UnixMicro(), string(data),
	).Scan(&id)
	if err != nil {
		return Key{}, backendError("add command", Key{}, err)
	}

	key := NewKey(c.scope, id)
	c.logger.Debug("command added", "key", key.String(), "stream_id", cmd.StreamID.String())
	return key, nil
}

// Get returns the command under key, or nil if there is none.
func (c *CommandStore) Get(ctx context.Context, key Key) (*Command, error) {
	if err := c.checkScope(key); err != nil {
		return nil, err
	}
	var data []byte
	err := c.db.QueryRowContext(ctx, "SELECT data FROM "+commandsTable+" WHERE id = ?", key.ID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, backendError("get command", key, err)
	}
	cmd, err := decodeCommand(data)
	if err != nil {
		return nil, backendError("get command", key, err)
	}
	return cmd, nil
}

// StreamOf returns the key of the stream a command was issued on.
// The boolean is false when the command does not exist.
func (c *CommandStore) StreamOf(ctx context.Context, commandID Key) (Key, bool, error) {
	if err := c.checkScope(commandID); err != nil {
		return Key{}, false, err
	}
	var streamID int64
	err := c.db.QueryRowContext(ctx, "SELECT stream_id FROM "+commandsTable+" WHERE id = ?", commandID.ID).Scan(&streamID)
	if errors.Is(err, sql.ErrNoRows) {
		return Key{}, false, nil
	}
	if err != nil {
		return Key{}, false, backendError("resolve command stream", commandID, err)
	}
	return NewKey(c.scope, streamID), true, nil
}

// removeByStreamTx deletes every command of a stream inside tx.
func (c *CommandStore) removeByStreamTx(ctx context.Context, tx *sql.Tx, streamID Key) (int64, error) {
	res, err := tx.ExecContext(ctx,
		c.db.Rebind("DELETE FROM "+commandsTable+" WHERE stream_id = ?"), streamID.ID)
	if err != nil {
		return 0, fmt.Errorf("deleting commands of stream: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted commands: %w", err)
	}
	return n, nil
}

// Count returns the number of stored commands.
func (c *CommandStore) Count(ctx context.Context) (int64, error) {
	return countRows(ctx, c.db, commandsTable, "count commands")
}

// Commit is a no-op: every write commits before it returns.
func (c *CommandStore) Commit(context.Context) error {
	return nil
}
