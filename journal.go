package vscheduler

import (
	"context"
	"time"
)

// Outcome is what a sweep did with one entry.
type Outcome string

const (
	OutcomeDispatched Outcome = "dispatched"
	// OutcomeFailed: enqueue failed and the entry was kept for the next sweep.
	OutcomeFailed Outcome = "failed"
	// OutcomeDropped: enqueue failed and the entry was removed anyway.
	OutcomeDropped   Outcome = "dropped"
	OutcomeMalformed Outcome = "malformed"
)

type JournalEntry struct {
	Key     string
	Task    Task
	Outcome Outcome
	Error   string
	At      time.Time
}

// Journal keeps a record of sweep outcomes after the entries themselves are gone from the set.
type Journal interface {
	Record(ctx context.Context, e JournalEntry) error
}

type nopJournal struct{}

func (nopJournal) Record(context.Context, JournalEntry) error { return nil }
