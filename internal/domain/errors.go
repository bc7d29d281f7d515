package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPrecondition is returned before any I/O when a run request is unusable.
	ErrPrecondition = errors.New("precondition failed")
	// ErrNoShards means no embedding shard was found for the source.
	ErrNoShards = errors.New("no embedding shards found")
	// ErrSpeakerNotFound is returned by catalogue lookups that match nothing.
	ErrSpeakerNotFound = errors.New("speaker not found")
	// ErrRunNotFound is returned when an analysis run id is unknown.
	ErrRunNotFound = errors.New("analysis run not found")
	// ErrNotIndexed is returned when an utterance has no stored voice vector.
	ErrNotIndexed = errors.New("utterance is not indexed")
)

// AggregationIntegrityError reports an utterance key present in two shards.
type AggregationIntegrityError struct {
	Key         string
	FirstShard  string
	SecondShard string
}

func (e *AggregationIntegrityError) Error() string {
	return fmt.Sprintf("duplicate embedding key %q in shards %s and %s", e.Key, e.FirstShard, e.SecondShard)
}

// RemoteCacheWriteError reports that the merged artifact could not be uploaded.
// It is not fatal: the run continues on the local artifact.
type RemoteCacheWriteError struct {
	Path string
	Err  error
}

func (e *RemoteCacheWriteError) Error() string {
	return fmt.Sprintf("upload merged artifact to %s: %v", e.Path, e.Err)
}

func (e *RemoteCacheWriteError) Unwrap() error { return e.Err }

// SpeakerPersistenceError reports that a speaker row could not be inserted.
// The label's utterances are left untouched.
type SpeakerPersistenceError struct {
	Source      string
	SpeakerName string
	Err         error
}

func (e *SpeakerPersistenceError) Error() string {
	return fmt.Sprintf("insert speaker %q for source %q: %v", e.SpeakerName, e.Source, e.Err)
}

func (e *SpeakerPersistenceError) Unwrap() error { return e.Err }
