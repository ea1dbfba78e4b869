// Package jobs runs encrypt and decrypt work in the background and tracks,
// per session and file, which jobs are still pending.
//
// A job moves NONE -> PENDING -> DONE (or FAILED). Its completion signal
// always fires, whatever the task returned. Only pending jobs lock a file.
package jobs

import (
	"context"
	"fmt"
)

type Direction string

const (
	Encrypt Direction = "encrypt"
	Decrypt Direction = "decrypt"
)

type State int

const (
	StateNone State = iota
	StatePending
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "none"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none":
		*s = StateNone
	case "pending":
		*s = StatePending
	case "done":
		*s = StateDone
	case "failed":
		*s = StateFailed
	default:
		return fmt.Errorf("unknown job state %q", text)
	}
	return nil
}

// Task is the body of a job. The context is cancelled only when the
// runner is forced to stop.
type Task func(ctx context.Context) error

// Job is one encrypt or decrypt run for one file.
type Job struct {
	Direction Direction
	FileID    string

	done chan struct{}
	err  error
}

func newJob(dir Direction, fileID string) *Job {
	return &Job{Direction: dir, FileID: fileID, done: make(chan struct{})}
}

// Done is closed when the job has finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// State never blocks.
func (j *Job) State() State {
	select {
	case <-j.done:
		if j.err != nil {
			return StateFailed
		}
		return StateDone
	default:
		return StatePending
	}
}

// Err is the task's result; nil while pending.
func (j *Job) Err() error {
	select {
	case <-j.done:
		return j.err
	default:
		return nil
	}
}

// Wait blocks until the job finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Job) finish(err error) {
	j.err = err
	close(j.done)
}

func (j *Job) String() string {
	return fmt.Sprintf("%s job for %s (%s)", j.Direction, j.FileID, j.State())
}
