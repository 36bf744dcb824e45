// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import "dream-weaver-go/internal/model"

// DreamIndexTask represents a request to (re)index one saved dream.
type DreamIndexTask struct {
	DreamID        string   `json:"dream_id"`
	Transcript     string   `json:"transcript"`
	Interpretation string   `json:"interpretation"`
	Tags           []string `json:"tags"`
	CreatedAt      int64    `json:"created_at"`
}

// NewDreamIndexTask builds the task for a journal entry.
func NewDreamIndexTask(d model.DreamEntry) DreamIndexTask {
	return DreamIndexTask{
		DreamID:        d.ID,
		Transcript:     d.Transcript,
		Interpretation: d.Interpretation,
		Tags:           append([]string{}, d.Tags...),
		CreatedAt:      d.CreatedAt,
	}
}

// Document converts the task into the search index document.
func (t DreamIndexTask) Document() model.DreamDocument {
	return model.DreamDocument{
		DreamID:        t.DreamID,
		Transcript:     t.Transcript,
		Interpretation: t.Interpretation,
		Tags:           append([]string{}, t.Tags...),
		CreatedAt:      t.CreatedAt,
	}
}
