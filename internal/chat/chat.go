package chat

import (
	"context"
	"errors"
	"iter"

	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/MegaGrindStone/chat-widget/internal/prompt"
)

// Client obtains assistant replies from a remote completion endpoint.
type Client interface {
	// Send returns the complete reply in one step.
	Send(ctx context.Context, p prompt.Prompt) (string, error)
	// SendStreaming returns the reply as a lazy, finite sequence of fragments. The sequence may be ranged
	// over only once.
	SendStreaming(ctx context.Context, p prompt.Prompt) iter.Seq2[string, error]
}

// Assembler turns a user message into a prompt.
type Assembler interface {
	Assemble(message string) prompt.Prompt
}

// Transcript is the durable, ordered log of committed messages.
type Transcript interface {
	Append(ctx context.Context, msg models.Message) error
	All(ctx context.Context) ([]models.Message, error)
	Clear(ctx context.Context) error
}

// View receives presentation updates. Implementations must return promptly: the synchronizer calls them
// from the goroutine consuming the reply.
type View interface {
	// InputEnabled toggles whether the user may submit.
	InputEnabled(enabled bool)
	// Draft shows the accumulated, not yet committed reply of session.
	Draft(sessionID, content string)
	// Committed shows msg as it was stored in the transcript.
	Committed(sessionID string, msg models.Message)
	// Discarded drops the in-progress reply of a superseded session.
	Discarded(sessionID string)
	// Notify shows a transient notification about err.
	Notify(err error)
	// Cleared empties the displayed transcript.
	Cleared()
}

var (
	// ErrBusy is returned when a reply is already in progress.
	ErrBusy = errors.New("a reply is already in progress")
	// ErrEmptyMessage is returned for a blank submission.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSuperseded is the outcome of a session that was discarded before it reached a terminal state.
	ErrSuperseded = errors.New("reply superseded")
)

// State is a position in the reply lifecycle.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateFinalizing
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is the status of a single stream session.
type Status int

const (
	StatusActive Status = iota
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Reply is the terminal outcome of one submission.
type Reply struct {
	SessionID string
	Status    Status
	// Message is the assistant entry appended to the transcript: the reply itself when Status is
	// StatusCompleted, a diagnostic when it is StatusFailed, and the zero value when cancelled.
	Message models.Message
	// Err is the cause of a failed or cancelled session.
	Err error
}

// Ticket describes an accepted submission.
type Ticket struct {
	SessionID string
	User      models.Message
	// Done receives exactly one Reply and is then closed.
	Done <-chan Reply
}
