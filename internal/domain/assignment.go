package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
)

// ClusteredUtterance is one utterance placed in a speaker cluster.
// WasNoise marks utterances first classified as noise and later recovered
// into the cluster by similarity.
type ClusteredUtterance struct {
	FileName string `json:"file_name"`
	WasNoise bool   `json:"was_noise"`
}

// SpeakerCluster groups the utterances attributed to one speaker label.
type SpeakerCluster struct {
	Label      string               `json:"label"`
	Utterances []ClusteredUtterance `json:"utterances"`
}

// Partition splits the cluster's file names by noise-recovery flag.
func (c SpeakerCluster) Partition() (clean, noise []string) {
	for _, u := range c.Utterances {
		if u.WasNoise {
			noise = append(noise, u.FileName)
		} else {
			clean = append(clean, u.FileName)
		}
	}
	return clean, noise
}

// ClusterAssignment is the clustering output in adapter order.
//
// It decodes either the label-keyed object form
//
//	{"speaker_1": [["u1.wav", 0], ["u2.wav", 1]]}
//
// keeping key order, or {"speakers": [{"label": ..., "utterances": [...]}]}.
type ClusterAssignment []SpeakerCluster

// UtteranceCount returns the number of utterances across all clusters.
func (a ClusterAssignment) UtteranceCount() int {
	n := 0
	for _, c := range a {
		n += len(c.Utterances)
	}
	return n
}

// MarshalJSON encodes the list form.
func (a ClusterAssignment) MarshalJSON() ([]byte, error) {
	clusters := []SpeakerCluster(a)
	if clusters == nil {
		clusters = []SpeakerCluster{}
	}
	return json.Marshal(struct {
		Speakers []SpeakerCluster `json:"speakers"`
	}{Speakers: clusters})
}

// UnmarshalJSON accepts both the object and list forms.
func (a *ClusterAssignment) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*a = nil
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var clusters []SpeakerCluster
		if err := json.Unmarshal(trimmed, &clusters); err != nil {
			return fmt.Errorf("decode cluster list: %w", err)
		}
		*a = clusters
		return nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return fmt.Errorf("decode cluster assignment: %w", err)
	}
	if raw, ok := probe["speakers"]; ok && len(probe) == 1 && isObjectList(raw) {
		var clusters []SpeakerCluster
		if err := json.Unmarshal(raw, &clusters); err != nil {
			return fmt.Errorf("decode speakers: %w", err)
		}
		*a = clusters
		return nil
	}

	return a.decodeLabelObject(trimmed)
}

func (a *ClusterAssignment) decodeLabelObject(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return err
	}

	out := ClusterAssignment{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		label, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}

		var pairs [][]json.RawMessage
		if err := dec.Decode(&pairs); err != nil {
			return fmt.Errorf("decode cluster %q: %w", label, err)
		}

		cluster := SpeakerCluster{Label: label, Utterances: make([]ClusteredUtterance, 0, len(pairs))}
		for i, pair := range pairs {
			if len(pair) != 2 {
				return fmt.Errorf("cluster %q entry %d: want [file, flag], got %d values", label, i, len(pair))
			}
			var name string
			if err := json.Unmarshal(pair[0], &name); err != nil {
				return fmt.Errorf("cluster %q entry %d: file name: %w", label, i, err)
			}
			flag, err := parseFlag(pair[1])
			if err != nil {
				return fmt.Errorf("cluster %q entry %d: %w", label, i, err)
			}
			cluster.Utterances = append(cluster.Utterances, ClusteredUtterance{FileName: name, WasNoise: flag})
		}
		out = append(out, cluster)
	}

	*a = out
	return nil
}

func isObjectList(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 || t[0] != '[' {
		return false
	}
	t = bytes.TrimSpace(t[1:])
	return len(t) > 0 && (t[0] == '{' || t[0] == ']')
}

// parseFlag accepts true/false, numbers (non-zero is true) and their string forms.
func parseFlag(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f != 0, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseBool(s); err == nil {
			return v, nil
		}
	}
	return false, fmt.Errorf("invalid noise flag %s", string(raw))
}

// GenderAssignment maps an utterance path to its predicted gender label.
type GenderAssignment map[string]string

// UtteranceFileName returns the last path segment of an assignment key.
func UtteranceFileName(p string) string {
	return path.Base(p)
}
