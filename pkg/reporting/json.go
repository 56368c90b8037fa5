package reporting

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dyxium/dia-core/internal/journal"
)

// JournalExport is the JSON document written by WriteJournalJSON
type JournalExport struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Transitions []journal.Transition `json:"transitions"`
	Rejections  []journal.Rejection  `json:"rejections"`
}

// WriteJournalJSON writes transitions and rejections to path as indented JSON
func WriteJournalJSON(path string, transitions []journal.Transition, rejections []journal.Rejection) error {
	if transitions == nil {
		transitions = []journal.Transition{}
	}
	if rejections == nil {
		rejections = []journal.Rejection{}
	}

	data, err := json.MarshalIndent(JournalExport{
		GeneratedAt: time.Now().UTC(),
		Transitions: transitions,
		Rejections:  rejections,
	}, "", "  ")
	if err != nil {
		return err
	}

	if err := EnsureDirectoryExists(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
