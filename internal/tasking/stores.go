package tasking

import (
	"context"

	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/database"
)

// Stores groups the three stores sharing one database and scope.
type Stores struct {
	Streams  *StreamStore
	Commands *CommandStore
	Statuses *StatusStore
}

// NewStores creates linked stream, command and status stores on db.
func NewStores(db *database.DB, opts Options) *Stores {
	streams := NewStreamStore(db, opts)
	commands := NewCommandStore(db, opts)
	statuses := NewStatusStore(db, streams, commands, opts)
	streams.Link(commands, statuses)

	return &Stores{
		Streams:  streams,
		Commands: commands,
		Statuses: statuses,
	}
}

// SetLogger sets the logger on every store.
func (s *Stores) SetLogger(logger Logger) {
	s.Streams.SetLogger(logger)
	s.Commands.SetLogger(logger)
	s.Statuses.SetLogger(logger)
}

// SetPublisher sets where change notifications of every store are sent.
func (s *Stores) SetPublisher(p Publisher) {
	s.Streams.SetPublisher(p)
	s.Statuses.SetPublisher(p)
}

// Commit commits every store.
func (s *Stores) Commit(ctx context.Context) error {
	if err := s.Streams.Commit(ctx); err != nil {
		return err
	}
	return s.Statuses.Commit(ctx)
}

// Close releases background resources. The database stays open.
func (s *Stores) Close() error {
	return s.Streams.Close()
}
