// Package optimistic makes local state changes feel instantaneous while a
// remote authority is updated asynchronously, rolling the local change back
// if the remote side refuses or cannot be reached.
package optimistic

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

var (
	// ErrRemoteRejected means the authority refused the operation
	// (validation or access failure). Retrying without change is pointless.
	ErrRemoteRejected = errors.New("remote rejected operation")

	// ErrRemoteUnreachable means the operation never reached the authority.
	// The caller may retry once the transport recovers.
	ErrRemoteUnreachable = errors.New("remote unreachable")
)

// Mutation captures one user-initiated change: the synchronous local apply,
// the inverse restoring the pre-apply value, and the remote persistence
// call.
type Mutation struct {
	Name     string
	Apply    func()
	Rollback func()
	Remote   func(ctx context.Context) error
}

// Coordinator runs mutations optimistically. It does not queue or serialize
// them: each Perform fires immediately, and rapid mutations on the same
// entity race to the authority, whose echo through the realtime feed is the
// tie-breaker.
type Coordinator struct {
	// exec posts a function onto the loop that owns the mutated state, so
	// rollbacks never write concurrently with tick or event handling.
	exec func(fn func())
}

// NewCoordinator builds a coordinator. exec must run the given function on
// the state-owning loop; passing nil runs rollbacks inline.
func NewCoordinator(exec func(fn func())) *Coordinator {
	if exec == nil {
		exec = func(fn func()) { fn() }
	}
	return &Coordinator{exec: exec}
}

// Perform applies the mutation locally, then persists it remotely in the
// background. On remote failure the rollback is posted back to the owning
// loop and the error is reported on the returned channel; it is never
// silently swallowed. Callers that do not care about the outcome may drop
// the channel.
func (c *Coordinator) Perform(ctx context.Context, m Mutation) <-chan error {
	done := make(chan error, 1)

	m.Apply()

	go func() {
		err := m.Remote(ctx)
		if err != nil {
			log.Error().Err(err).Str("mutation", m.Name).Msg("remote call failed, rolling back")
			c.exec(m.Rollback)
		}
		done <- err
		close(done)
	}()

	return done
}
