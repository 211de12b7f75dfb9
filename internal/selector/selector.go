// Package selector implements the Task Selector (C5): picks the next
// eligible task honoring section priority, section dependencies, status,
// and lease state (§4.1, §4.5). The ordering and dependency-exclusion logic
// live in ProjectStore.FindNextTask; this package adds the lease-state
// check that query alone cannot express, by re-querying past tasks that
// have a lock row held by another runner. Neither that runner's liveness
// nor the lock's expiry is checked.
package selector

import (
	"context"
	"fmt"

	"github.com/UnlikeOtherAI/steroids/internal/store"
)

// maxCandidates bounds how many locked tasks Select will skip past in one
// call before giving up, so a backlog of stuck locks can't spin it forever.
const maxCandidates = 25

// Selection is the (task, action) pair named in §4.1.
type Selection struct {
	Task   *store.Task
	Action string // "start" or "resume"
}

type Selector struct {
	project *store.ProjectStore
}

func New(project *store.ProjectStore) *Selector {
	return &Selector{project: project}
}

// Select returns the next eligible task, or nil if none is available. A
// task already locked by a different runner is skipped in favor of the
// next candidate.
func (sel *Selector) Select(ctx context.Context, runnerID string) (*Selection, error) {
	var excluded []string
	for i := 0; i < maxCandidates; i++ {
		t, action, err := sel.project.FindNextTask(ctx, excluded)
		if err != nil {
			return nil, fmt.Errorf("selector: find next task: %w", err)
		}
		if t == nil {
			return nil, nil
		}

		lock, err := sel.project.GetTaskLock(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("selector: get task lock %s: %w", t.ID, err)
		}
		if lock != nil && lock.RunnerID != runnerID {
			excluded = append(excluded, t.ID)
			continue
		}
		return &Selection{Task: t, Action: action}, nil
	}
	return nil, nil
}
