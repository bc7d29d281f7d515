package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// RunState is a step of the analysis state machine.
type RunState string

const (
	RunStateInit                 RunState = "init"
	RunStateStagingReady         RunState = "staging_ready"
	RunStateEmbeddingsAggregated RunState = "embeddings_aggregated"
	RunStateClusteringDone       RunState = "clustering_done"
	RunStateGenderDone           RunState = "gender_done"
	RunStateReconciled           RunState = "reconciled"
	RunStateIndexed              RunState = "indexed"
	RunStateDone                 RunState = "done"
	RunStateAggregationFailed    RunState = "aggregation_failed"
	RunStateReconciliationFailed RunState = "reconciliation_failed"
)

// Terminal reports whether no further transition follows s.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateDone, RunStateAggregationFailed, RunStateReconciliationFailed:
		return true
	}
	return false
}

// Failed reports whether s is a failure state.
func (s RunState) Failed() bool {
	return s == RunStateAggregationFailed || s == RunStateReconciliationFailed
}

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
//
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// AnalysisRun records one orchestrated analysis of a source and its progress.
type AnalysisRun struct {
	ID                string      `gorm:"type:text;primaryKey" json:"id"`
	Source            string      `gorm:"type:text;not null;index" json:"source"`
	State             RunState    `gorm:"type:text;index;default:init" json:"state"`
	SpeakerAnalysis   bool        `json:"speaker_analysis"`
	GenderAnalysis    bool        `json:"gender_analysis"`
	FromCache         bool        `json:"from_cache"`
	ShardCount        int         `gorm:"default:0" json:"shard_count"`
	EmbeddingCount    int         `gorm:"default:0" json:"embedding_count"`
	SpeakersCreated   int         `gorm:"default:0" json:"speakers_created"`
	SpeakersReused    int         `gorm:"default:0" json:"speakers_reused"`
	UtterancesUpdated int64       `gorm:"default:0" json:"utterances_updated"`
	GenderUpdated     int64       `gorm:"default:0" json:"gender_updated"`
	Warnings          StringArray `gorm:"type:text" json:"warnings"`
	StartedAt         *time.Time  `json:"started_at,omitempty"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
	ErrorLog          string      `json:"error_log,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// TableName returns the database table name for AnalysisRun.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (AnalysisRun) TableName() string {
	return "analysis_runs"
}
