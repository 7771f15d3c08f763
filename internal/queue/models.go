package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a video in the shared table.
type Status string

const (
	StatusPending     Status = "pending"
	StatusProcessing  Status = "processing"
	StatusTranscribed Status = "transcribed"
	StatusSummarizing Status = "summarizing"
	StatusSummarized  Status = "summarized"
	StatusError       Status = "error"
	StatusSkipped     Status = "skipped"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusTranscribed,
	StatusSummarizing,
	StatusSummarized,
	StatusError,
	StatusSkipped,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// legalTransitions is the closed set of edges a video may move along.
// Everything the coordinator writes is checked against this table first;
// a conditional update is never issued for an edge missing here.
var legalTransitions = map[Status][]Status{
	StatusPending:     {StatusProcessing, StatusSkipped},
	StatusProcessing:  {StatusTranscribed, StatusError, StatusPending},
	StatusTranscribed: {StatusSummarizing, StatusSkipped},
	StatusSummarizing: {StatusSummarized, StatusError, StatusTranscribed},
	StatusError:       {StatusPending, StatusTranscribed},
}

// CanTransition reports whether moving a video from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status has no outgoing automatic edges.
// Errored videos can still be requeued by an operator.
func (s Status) IsTerminal() bool {
	return s == StatusSummarized || s == StatusSkipped
}

// Stage is one phase of the pipeline. Each stage claims from its available
// status, holds items in its claimed status, and commits to its done status.
type Stage string

const (
	StageTranscribe Stage = "transcribe"
	StageSummarize  Stage = "summarize"
)

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	switch Stage(strings.ToLower(strings.TrimSpace(value))) {
	case StageTranscribe:
		return StageTranscribe, true
	case StageSummarize:
		return StageSummarize, true
	}
	return "", false
}

// Available returns the status a stage claims from.
func (s Stage) Available() Status {
	if s == StageSummarize {
		return StatusTranscribed
	}
	return StatusPending
}

// Claimed returns the in-progress status for a stage.
func (s Stage) Claimed() Status {
	if s == StageSummarize {
		return StatusSummarizing
	}
	return StatusProcessing
}

// Done returns the status a stage commits to on success. For the transcribe
// stage this doubles as the summarize stage's available status.
func (s Stage) Done() Status {
	if s == StageSummarize {
		return StatusSummarized
	}
	return StatusTranscribed
}

// Video is one unit of work: a single legislature session recording.
type Video struct {
	VideoID         string
	URL             string
	Title           string
	RawText         string
	Chamber         string
	SessionType     string
	SessionYear     int
	DayNumber       int
	VideoDate       string
	Part            int
	TimeOfDay       string
	DurationSeconds int
	Source          string
	Transcript      string
	Summary         string
	Status          Status
	ClaimedBy       string
	ClaimedAt       *time.Time
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DisplayTitle prefers the curated title, falling back to the scraped link text.
func (v Video) DisplayTitle() string {
	if strings.TrimSpace(v.Title) != "" {
		return v.Title
	}
	return v.RawText
}
