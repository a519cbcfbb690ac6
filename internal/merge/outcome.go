// internal/merge/outcome.go
package merge

import (
	"fmt"
	"strings"
	"time"
)

// Stage is one step of the per-pair pipeline.
type Stage string

const (
	StageFetchTemplate  Stage = "fetch_template"
	StageMapData        Stage = "map_data"
	StageResolveQR      Stage = "resolve_qr"
	StageFillTemplate   Stage = "fill_template"
	StageEmbedArtifacts Stage = "embed_artifacts"
	StageDispatch       Stage = "dispatch"
)

const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	// StatusUnknown is a non-blank cell this package did not write. It still blocks a plain send.
	StatusUnknown = "unknown"
)

const failedPrefix = "ERROR ["

// Outcome is the value persisted in a rule's status column.
type Outcome struct {
	Status  string
	Stage   Stage
	Code    string
	Message string
	At      time.Time
}

func Sent(at time.Time) Outcome {
	return Outcome{Status: StatusSent, At: at}
}

func Failed(stage Stage, code, message string, at time.Time) Outcome {
	return Outcome{Status: StatusFailed, Stage: stage, Code: code, Message: message, At: at}
}

// String is the cell value: an RFC 3339 timestamp for a sent message, or
// "ERROR [stage] <timestamp>: message" for a failure.
func (o Outcome) String() string {
	ts := o.At.UTC().Format(time.RFC3339)
	if o.Status != StatusFailed {
		return ts
	}
	msg := strings.ReplaceAll(o.Message, "\n", " ")
	return fmt.Sprintf("%s%s] %s: %s", failedPrefix, o.Stage, ts, msg)
}

// ParseOutcome reads a status cell. ok is false for a blank cell.
func ParseOutcome(cell string) (Outcome, bool) {
	s := strings.TrimSpace(cell)
	if s == "" {
		return Outcome{}, false
	}

	if rest, found := strings.CutPrefix(s, failedPrefix); found {
		stage, rest, okStage := strings.Cut(rest, "] ")
		ts, msg, okMsg := strings.Cut(rest, ": ")
		at, err := time.Parse(time.RFC3339, ts)
		if okStage && okMsg && err == nil {
			return Outcome{Status: StatusFailed, Stage: Stage(stage), Message: msg, At: at}, true
		}
		return Outcome{Status: StatusUnknown, Message: s}, true
	}

	if at, err := time.Parse(time.RFC3339, s); err == nil {
		return Outcome{Status: StatusSent, At: at}, true
	}
	return Outcome{Status: StatusUnknown, Message: s}, true
}
