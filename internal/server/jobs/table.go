package jobs

import (
	"sync"

	"github.com/dmitrijs2005/filevault/internal/common"
)

// Table holds one session's jobs: at most one live entry per file and
// direction. Finished entries stay until superseded or forgotten.
type Table struct {
	runner *Runner

	mu   sync.Mutex
	jobs map[Direction]map[string]*Job
}

func NewTable(runner *Runner) *Table {
	return &Table{
		runner: runner,
		jobs: map[Direction]map[string]*Job{
			Encrypt: {},
			Decrypt: {},
		},
	}
}

// Start launches task as the new dir job for fileID. If a previous job of
// the same direction exists for the file, Start blocks until it has
// finished, so same-direction jobs of a file run in launch order. The new
// job is registered (and therefore pending) before that wait.
func (t *Table) Start(dir Direction, fileID string, task Task) *Job {
	job := newJob(dir, fileID)

	t.mu.Lock()
	prev := t.jobs[dir][fileID]
	t.jobs[dir][fileID] = job
	t.mu.Unlock()

	if prev != nil {
		<-prev.Done()
	}

	t.runner.submit(job, task)
	return job
}

// Get returns the latest dir job of fileID, or nil.
func (t *Table) Get(dir Direction, fileID string) *Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jobs[dir][fileID]
}

// State of the latest dir job of fileID; StateNone if there is none.
func (t *Table) State(dir Direction, fileID string) State {
	if j := t.Get(dir, fileID); j != nil {
		return j.State()
	}
	return StateNone
}

// CheckLocked fails with common.ErrFileIsBeingEncrypted or
// common.ErrFileIsBeingDecrypted while a job for fileID is pending.
// It never blocks on a job.
func (t *Table) CheckLocked(fileID string) error {
	if t.State(Encrypt, fileID) == StatePending {
		return common.ErrFileIsBeingEncrypted
	}
	if t.State(Decrypt, fileID) == StatePending {
		return common.ErrFileIsBeingDecrypted
	}
	return nil
}

// Forget drops job from the table if it is still the latest entry for
// its file, so a failed job is reported only once.
func (t *Table) Forget(job *Job) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.jobs[job.Direction][job.FileID] == job {
		delete(t.jobs[job.Direction], job.FileID)
	}
}

// Pending returns all jobs that have not finished yet.
func (t *Table) Pending() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pending []*Job
	for _, byFile := range t.jobs {
		for _, j := range byFile {
			if j.State() == StatePending {
				pending = append(pending, j)
			}
		}
	}
	return pending
}
