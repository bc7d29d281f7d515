package domain

// Gender labels stored on utterances.
const (
	GenderMale   = "m"
	GenderFemale = "f"
)

// Utterance is a clipped utterance row. The pipeline only updates the
// speaker and gender columns; rows are created upstream.
type Utterance struct {
	ID                       int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	AudioID                  string  `gorm:"column:audio_id;type:text;index" json:"audio_id"`
	ClippedUtteranceFileName string  `gorm:"column:clipped_utterance_file_name;type:text;index" json:"clipped_utterance_file_name"`
	ClippedUtteranceDuration float64 `gorm:"column:clipped_utterance_duration" json:"clipped_utterance_duration"`
	SNR                      float64 `gorm:"column:snr" json:"snr"`
	Status                   string  `gorm:"type:text" json:"status"`
	SpeakerID                *int64  `gorm:"column:speaker_id;index" json:"speaker_id,omitempty"`
	WasNoise                 bool    `gorm:"column:was_noise;default:false" json:"was_noise"`
	SpeakerGender            *string `gorm:"column:speaker_gender;type:text" json:"speaker_gender,omitempty"`
	IsTranscribed            bool    `gorm:"column:is_transcribed;default:false" json:"is_transcribed"`
}

// TableName returns the database table name for Utterance.
func (Utterance) TableName() string {
	return "media_speaker_mapping"
}

// MediaMetadata describes the original media an utterance was clipped from.
type MediaMetadata struct {
	AudioID       string `gorm:"column:audio_id;type:text;primaryKey" json:"audio_id"`
	Source        string `gorm:"type:text;not null;index" json:"source"`
	SourceURL     string `gorm:"column:source_url;type:text" json:"source_url"`
	SourceWebsite string `gorm:"column:source_website;type:text" json:"source_website"`
	Language      string `gorm:"type:text" json:"language"`
}

// TableName returns the database table name for MediaMetadata.
func (MediaMetadata) TableName() string {
	return "media_metadata_staging"
}

// UtteranceDetail joins an utterance with its media metadata and speaker name.
type UtteranceDetail struct {
	AudioID                  string  `json:"audio_id"`
	ClippedUtteranceFileName string  `json:"clipped_utterance_file_name"`
	ClippedUtteranceDuration float64 `json:"clipped_utterance_duration"`
	SNR                      float64 `json:"snr"`
	Status                   string  `json:"status"`
	Source                   string  `json:"source"`
	SourceURL                string  `json:"source_url"`
	SourceWebsite            string  `json:"source_website"`
	Language                 string  `json:"language"`
	SpeakerName              *string `json:"speaker_name,omitempty"`
	SpeakerGender            *string `json:"speaker_gender,omitempty"`
	WasNoise                 bool    `json:"was_noise"`
}
