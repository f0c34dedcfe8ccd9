package state

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion identifies the on-disk record layout. Readers reject records
// carrying any other version instead of guessing at their shape.
const SchemaVersion = 1

// Status is the persisted lifecycle phase of a generation session.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// validTransitions defines the allowed status machine transitions.
// Terminal statuses have no outgoing edges: a session is never resurrected.
var validTransitions = map[Status][]Status{
	StatusStarting: {StatusRunning, StatusCompleted, StatusFailed, StatusCancelled},
	StatusRunning:  {StatusCompleted, StatusFailed, StatusCancelled},
}

// Terminal reports whether no further transitions are permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Params is the immutable input to a generation job, written once at creation.
type Params struct {
	Prompt           string `json:"prompt"`
	Model            string `json:"model"`
	AspectRatio      string `json:"aspect_ratio,omitempty"`
	NegativePrompt   string `json:"negative_prompt,omitempty"`
	PersonGeneration string `json:"person_generation,omitempty"`
	Resolution       string `json:"resolution,omitempty"`
	NumberOfVideos   int    `json:"number_of_videos"`
	DurationSeconds  int    `json:"duration_seconds,omitempty"`
	Seed             *int64 `json:"seed,omitempty"`
	EnhancePrompt    bool   `json:"enhance_prompt,omitempty"`
	GenerateAudio    bool   `json:"generate_audio,omitempty"`
}

// Video is an opaque reference to one generated result artifact.
type Video struct {
	URI      string `json:"uri"`
	MimeType string `json:"mime_type,omitempty"`
}

// Failure describes why a session ended in StatusFailed.
type Failure struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Stage, f.Message)
}

// Session is the full persisted record for one generation job. Exactly one
// record exists per ID; while the session is active only its owning worker
// process mutates the record body.
type Session struct {
	SchemaVersion int        `json:"schema_version"`
	ID            string     `json:"session_id"`
	Status        Status     `json:"status"`
	Params        Params     `json:"parameters"`
	PID           int        `json:"pid,omitempty"`
	Progress      string     `json:"progress,omitempty"`
	Videos        []Video    `json:"videos,omitempty"`
	Error         *Failure   `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Transition moves the session to a new status, enforcing the status machine.
// The first terminal transition stamps CompletedAt exactly once.
func (s *Session) Transition(to Status, now time.Time) error {
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("invalid status transition %s -> %s for session %s", s.Status, to, s.ID)
	}
	s.Status = to
	if to.Terminal() && s.CompletedAt == nil {
		t := now.UTC()
		s.CompletedAt = &t
	}
	return nil
}

// NewID returns a fresh session identifier of the form gen_<8 hex>_<unix>.
// The token is opaque to every component; it doubles as the state-file name.
func NewID() string {
	entropy := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("gen_%s_%d", entropy, time.Now().Unix())
}
