package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names a milestone of a harvest run.
type Stage string

// Supported progress stages.
const (
	StageRunStart  Stage = "RUN_START"
	StageFileStart Stage = "FILE_START"
	StageURLDone   Stage = "URL_DONE"
	StageFileDone  Stage = "FILE_DONE"
	StageFileError Stage = "FILE_ERROR"
	StageRunDone   Stage = "RUN_DONE"
)

// Event is one progress milestone.
type Event struct {
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// File is the batch file name for file and URL stages.
	File string
	Host string
	URL  string
	// Valid and StatusCode describe a URL_DONE outcome.
	Valid      bool
	StatusCode int
	Attempts   int
	// Done and Total are URL counts across the whole run.
	Done  int
	Total int
	Dur   time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
	case StageFileStart, StageFileDone, StageFileError:
		if e.File == "" {
			return fmt.Errorf("%s requires file", e.Stage)
		}
	case StageURLDone:
		if e.URL == "" {
			return errors.New("url done requires url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID returns the run ID as a uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	return [16]byte(id)
}
