package domain

import "time"

// Speaker is a catalogue speaker, unique per (source, speaker_name).
type Speaker struct {
	SpeakerID   int64     `gorm:"column:speaker_id;primaryKey;autoIncrement" json:"speaker_id"`
	Source      string    `gorm:"type:text;not null;uniqueIndex:idx_speaker_source_name" json:"source"`
	SpeakerName string    `gorm:"column:speaker_name;type:text;not null;uniqueIndex:idx_speaker_source_name" json:"speaker_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for Speaker.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Speaker) TableName() string {
	return "speaker"
}

// SpeakerSummary is a speaker with the number of utterances assigned to it.
type SpeakerSummary struct {
	Speaker
	UtteranceCount int64 `json:"utterance_count"`
	NoiseCount     int64 `json:"noise_count"`
}
