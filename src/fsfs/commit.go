package fsfs

import (
	"context"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/pachyderm/fsfs/src/internal/dag"
	"github.com/pachyderm/fsfs/src/internal/errors"
	"github.com/pachyderm/fsfs/src/internal/log"
	fspath "github.com/pachyderm/fsfs/src/internal/path"
	"github.com/pachyderm/fsfs/src/internal/pctx"
)

// Commit commits the transaction as the next revision.  Revisions committed since the
// transaction's base are merged in first; if another commit lands between the merge and the write,
// the merge is repeated against the new youngest revision.  A merge that cannot be completed fails
// with a ConflictError and leaves the transaction open.
func (t *Txn) Commit(ctx context.Context) (_ Revnum, retErr error) {
	ctx = pctx.Child(ctx, "commit", pctx.WithFields(log.Txn(string(t.id))))
	defer log.Span(ctx, "fsfs.Commit")(log.Errorp(&retErr))
	fs := t.fs
	start := time.Now()
	defer func() {
		commitSeconds.Observe(time.Since(start).Seconds())
		commitMetric.WithLabelValues(commitOutcome(retErr)).Inc()
	}()
	rev, err := fs.commitLoop(ctx, t)
	if err != nil {
		// The merges may have replaced any node of the transaction.
		if st, err := fs.sharedTxn(t.id); err == nil {
			st.cache.Purge()
		}
		return InvalidRevnum, err
	}
	fs.forgetTxn(t.id)
	return rev, nil
}

func commitOutcome(err error) string {
	switch {
	case err == nil:
		return "committed"
	case IsConflict(err):
		return "conflict"
	case IsOutOfDate(err):
		return "out_of_date"
	case IsTooMuchContention(err):
		return "contention"
	case IsLocked(err):
		return "locked"
	default:
		return "error"
	}
}

func (fs *FS) commitBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = fs.config.Commit.BackoffInitial
	b.MaxInterval = fs.config.Commit.BackoffMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (fs *FS) commitLoop(ctx context.Context, t *Txn) (Revnum, error) {
	maxRetries := fs.config.Commit.MaxRetries
	b := fs.commitBackOff()
	for attempt := 0; ; attempt++ {
		youngest, err := fs.repo.Youngest(ctx)
		if err != nil {
			return InvalidRevnum, err
		}
		youngestRoot, err := fs.repo.RevisionRoot(ctx, youngest)
		if err != nil {
			return InvalidRevnum, err
		}
		if err := fs.repo.CheckOutOfDate(ctx, t.id, youngest); err != nil {
			return InvalidRevnum, err
		}
		if err := fs.mergeChanges(ctx, t.id, nil, youngestRoot); err != nil {
			if IsConflict(err) {
				log.Info(ctx, "commit failed to merge", zap.Error(err), log.Revision("youngest", int64(youngest)))
			}
			return InvalidRevnum, err
		}
		if err := fs.repo.SetTxnBase(ctx, t.id, youngest); err != nil {
			return InvalidRevnum, err
		}
		if fs.afterMerge != nil {
			fs.afterMerge(ctx)
		}
		rev, err := fs.repo.Commit(ctx, t.id, fs.verifyLocks)
		if err == nil {
			return rev, nil
		}
		if !IsOutOfDate(err) {
			return InvalidRevnum, err
		}
		// Retry only if somebody else committed in the meantime.
		now, yerr := fs.repo.Youngest(ctx)
		if yerr != nil {
			return InvalidRevnum, errors.Join(err, yerr)
		}
		if now == youngest {
			return InvalidRevnum, err
		}
		commitRetryMetric.Inc()
		if maxRetries > 0 && attempt+1 >= maxRetries {
			return InvalidRevnum, errors.Errorf("gave up after %d attempts: %w", attempt+1, ErrTooMuchContention)
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return InvalidRevnum, errors.EnsureStack(ErrTooMuchContention)
		}
		log.Info(ctx, "transaction out of date; merging again",
			log.RetryAttempt(attempt+1, maxRetries),
			log.Revision("youngest", int64(now)),
			zap.Duration("backoff", wait))
		select {
		case <-ctx.Done():
			return InvalidRevnum, errors.EnsureStack(context.Cause(ctx))
		case <-time.After(wait):
		}
	}
}

// verifyLocks checks, for transactions begun with CheckLocks, that the caller may change every path
// the transaction changed.  Added, deleted and replaced paths need the locks of their descendants
// too.
func (fs *FS) verifyLocks(ctx context.Context, txn *dag.TxnRecord, changes map[string]*dag.Change) error {
	if !txn.CheckLocks {
		return nil
	}
	paths := make([]string, 0, len(changes))
	for p := range changes {
		paths = append(paths, p)
	}
	slices.SortFunc(paths, comparePaths)
	access := fs.currentAccess()
	var lastRecursed string
	for _, p := range paths {
		if lastRecursed != "" && fspath.IsAncestor(lastRecursed, p) {
			continue
		}
		recurse := changes[p].Kind != dag.Modify
		if err := fs.locks.Allow(ctx, p, recurse, access); err != nil {
			return err
		}
		if recurse {
			lastRecursed = p
		}
	}
	return nil
}

// comparePaths orders paths component by component, so a directory sorts directly before its
// descendants.
func comparePaths(a, b string) int {
	return slices.Compare(fspath.Components(a), fspath.Components(b))
}
