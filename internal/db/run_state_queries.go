package db

import (
	"context"
	"fmt"
	"time"

	"horse.fit/newsfeed/internal/news"
)

// AcquireRun takes the named recompute lock for owner, or folds the request
// into a pending rerun when another holder is active. A holder not renewed
// within lease is treated as abandoned.
func (p *Pool) AcquireRun(ctx context.Context, name, owner string, now time.Time, lease time.Duration) (news.Acquire, error) {
	now = now.UTC()
	staleBefore := now.Add(-lease)
	if lease <= 0 {
		staleBefore = time.Time{}
	}

	tx, err := p.BeginTx(ctx, TxOptions{})
	if err != nil {
		return news.Acquire{}, fmt.Errorf("begin acquire run: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	const acquireQ = `
INSERT INTO news.recompute_state (name, status, owner, updated_at)
VALUES ($1, 'running', $4, $2)
ON CONFLICT (name) DO UPDATE
SET status = 'running', owner = EXCLUDED.owner, updated_at = EXCLUDED.updated_at
WHERE news.recompute_state.status = 'idle'
   OR news.recompute_state.updated_at < $3
`
	tag, err := tx.Exec(ctx, acquireQ, name, now, staleBefore, owner)
	if err != nil {
		return news.Acquire{}, fmt.Errorf("acquire run %s: %w", name, err)
	}
	if tag.RowsAffected() == 1 {
		if err := tx.Commit(ctx); err != nil {
			return news.Acquire{}, fmt.Errorf("commit acquire run: %w", err)
		}
		return news.Acquire{Acquired: true}, nil
	}

	const pendingQ = `
UPDATE news.recompute_state
SET status = 'running_pending'
WHERE name = $1
  AND status IN ('running', 'running_pending')
`
	tag, err = tx.Exec(ctx, pendingQ, name)
	if err != nil {
		return news.Acquire{}, fmt.Errorf("mark run %s pending: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return news.Acquire{}, fmt.Errorf("commit pending run: %w", err)
	}
	return news.Acquire{Pending: tag.RowsAffected() == 1}, nil
}

// RenewRun extends the lease of owner's run.
func (p *Pool) RenewRun(ctx context.Context, name, owner string, now time.Time) error {
	const q = `
UPDATE news.recompute_state
SET updated_at = $3
WHERE name = $1
  AND owner = $2
  AND status IN ('running', 'running_pending')
`
	tag, err := p.Exec(ctx, q, name, owner, now.UTC())
	if err != nil {
		return fmt.Errorf("renew run %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("renew run %s: %w", name, news.ErrRunLockLost)
	}
	return nil
}

// ReleaseRun ends owner's run. It reports rerun=true when a pending request
// was folded in, in which case owner keeps the lock for the next run.
func (p *Pool) ReleaseRun(ctx context.Context, name, owner string, now time.Time) (bool, error) {
	const q = `
UPDATE news.recompute_state
SET status = CASE WHEN status = 'running_pending' THEN 'running'::news.recompute_status ELSE 'idle'::news.recompute_status END,
    owner = CASE WHEN status = 'running_pending' THEN owner ELSE '' END,
    updated_at = $3
WHERE name = $1
  AND owner = $2
  AND status IN ('running', 'running_pending')
RETURNING status::text
`
	var status string
	if err := p.QueryRow(ctx, q, name, owner, now.UTC()).Scan(&status); err != nil {
		if IsNoRows(err) {
			return false, fmt.Errorf("release run %s: %w", name, news.ErrRunLockLost)
		}
		return false, fmt.Errorf("release run %s: %w", name, err)
	}
	return news.RunStatus(status) == news.RunRunning, nil
}

func (p *Pool) RunState(ctx context.Context, name string) (news.RunState, error) {
	const q = `
SELECT status::text, owner, updated_at
FROM news.recompute_state
WHERE name = $1
`
	state := news.RunState{Name: name, Status: news.RunIdle}
	var status string
	if err := p.QueryRow(ctx, q, name).Scan(&status, &state.Owner, &state.UpdatedAt); err != nil {
		if IsNoRows(err) {
			return state, nil
		}
		return news.RunState{}, fmt.Errorf("query run state %s: %w", name, err)
	}
	state.Status = news.RunStatus(status)
	return state, nil
}
