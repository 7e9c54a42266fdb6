// Package batch implements the transactional init/commit/rollback protocol
// described in spec §4.J: every file-backed component and the key-value
// store expose the same four-method Participant shape, and Coordinator runs
// them as one logical transaction spanning both worlds.
package batch

import (
	"context"
	"fmt"

	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/mw-node/txhashset/txhashseterr"
)

// Participant is implemented by every component a Coordinator can enlist:
// filestore.HashFile, filestore.DataFile, bitmapfile.LeafSet,
// bitmapfile.PruneList, and blockdb.Tx.
type Participant interface {
	// OnInitWrite is called once, before the batch function runs, so a
	// participant can snapshot whatever state Rollback will need to
	// restore.
	OnInitWrite() error
	// Commit durably applies every change staged during the batch.
	Commit() error
	// Rollback undoes every change staged during the batch, restoring the
	// pre-batch state. It must be safe to call more than once.
	Rollback() error
	// OnEndWrite runs after either Commit or Rollback, regardless of which,
	// so a participant can release any resource it acquired in
	// OnInitWrite.
	OnEndWrite() error
}

// KV is the subset of a key-value store's transaction the coordinator
// drives directly: blockdb.Tx satisfies this in addition to Participant.
type KV interface {
	Participant
}

// Coordinator runs a batch of work against an ordered list of participants
// as one logical transaction: on any error before commit, every participant
// is rolled back and the store is left byte-identical to its pre-batch
// state; commit failure after a partial flush is fatal (spec §4.J, §7 —
// "commit failure after partial flush... triggers node shutdown").
//
// Participants are flushed in the order they were registered. Callers are
// responsible for registering them in the dependency order the spec
// requires: data files before their hash files, leaf sets before prune
// lists, and the key-value store last.
type Coordinator struct {
	participants []Participant
	log          *logger.WrappedLogger
}

// NewCoordinator builds a Coordinator over participants, in flush order.
func NewCoordinator(participants ...Participant) *Coordinator {
	return &Coordinator{participants: participants, log: logger.Sugar.WithServiceName("batch")}
}

// Run executes fn as one batch: OnInitWrite on every participant, then fn,
// then Commit on every participant if fn succeeded (Rollback otherwise),
// and finally OnEndWrite on every participant regardless of outcome.
//
// ctx is checked once before the batch starts; fn is responsible for
// checking ctx.Err() at its own iteration boundaries, per spec §5's
// cooperative-cancellation model — a cancelled batch is never committed.
func (c *Coordinator) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, p := range c.participants {
		if err := p.OnInitWrite(); err != nil {
			c.rollbackFrom(i + 1)
			c.endWriteAll()
			return fmt.Errorf("%w: on_init_write: %v", txhashseterr.ErrIO, err)
		}
	}

	runErr := fn(ctx)
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}

	if runErr != nil {
		c.log.Debugf("batch rolled back: %v", runErr)
		c.rollbackFrom(len(c.participants))
		c.endWriteAll()
		return runErr
	}

	if err := c.commitAll(); err != nil {
		c.log.Errorf("commit failed after partial flush, participant state may be inconsistent: %v", err)
		c.endWriteAll()
		return err
	}

	c.endWriteAll()
	return nil
}

// commitAll flushes every participant in registration order. A failure here
// is fatal per spec §7: it is returned, not retried, and the caller is
// expected to shut the node down rather than attempt in-process repair.
func (c *Coordinator) commitAll() error {
	for _, p := range c.participants {
		if err := p.Commit(); err != nil {
			return fmt.Errorf("%w: commit: %v", txhashseterr.ErrDatabase, err)
		}
	}
	return nil
}

// rollbackFrom rolls back participants [0, n) in reverse registration
// order. Rollback is required to be idempotent (spec §4.J), so a
// participant that failed partway through OnInitWrite is still rolled back
// along with everything that succeeded before it.
func (c *Coordinator) rollbackFrom(n int) {
	for i := n - 1; i >= 0; i-- {
		// Rollback errors are not propagated: a failure here means the
		// store may be in an inconsistent state, which is exactly the
		// fatal condition spec §7 hands off to a node restart rather than
		// in-process repair. Best effort is still attempted for every
		// participant so a single stuck one doesn't mask the others.
		_ = c.participants[i].Rollback()
	}
}

func (c *Coordinator) endWriteAll() {
	for _, p := range c.participants {
		_ = p.OnEndWrite()
	}
}
