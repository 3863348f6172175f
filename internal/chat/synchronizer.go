package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MegaGrindStone/chat-widget/internal/models"
	"github.com/google/uuid"
)

// Config carries every collaborator of a Synchronizer. Client may be nil, in which case every submission
// fails with a PreconditionError until Reconfigure installs one.
type Config struct {
	Client     Client
	Assembler  Assembler
	Transcript Transcript
	View       View
	Streaming  bool

	Logger *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Synchronizer turns the reply to a user message into live draft updates and exactly one committed
// assistant message. At most one session is active at a time.
//
// Every View call is made while holding the synchronizer's lock, so a View must never call back into the
// Synchronizer.
type Synchronizer struct {
	assembler  Assembler
	transcript Transcript
	view       View
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	client    Client
	streaming bool
	state     State
	session   *session
}

type session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	draft  strings.Builder
	status Status
}

const errLoggerKey = "err"

// New creates a Synchronizer in the idle state.
func New(cfg Config) (*Synchronizer, error) {
	if cfg.Assembler == nil {
		return nil, errors.New("assembler is required")
	}
	if cfg.Transcript == nil {
		return nil, errors.New("transcript is required")
	}
	if cfg.View == nil {
		return nil, errors.New("view is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Synchronizer{
		assembler:  cfg.Assembler,
		transcript: cfg.Transcript,
		view:       cfg.View,
		logger:     logger.With(slog.String("module", "chat")),
		now:        now,
		client:     cfg.Client,
		streaming:  cfg.Streaming,
	}, nil
}

// State returns the current lifecycle state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Streaming reports whether replies are requested incrementally.
func (s *Synchronizer) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Reconfigure replaces the completion client and the streaming flag. It fails with ErrBusy unless idle.
func (s *Synchronizer) Reconfigure(client Client, streaming bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrBusy
	}
	s.client = client
	s.streaming = streaming
	return nil
}

// Start accepts text as the next user message, commits it to the transcript and obtains the reply in the
// background. It returns ErrBusy while another reply is in progress and ErrEmptyMessage for blank text.
func (s *Synchronizer) Start(ctx context.Context, text string) (Ticket, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Ticket{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return Ticket{}, ErrBusy
	}

	user := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: s.now(),
	}
	if err := s.transcript.Append(context.WithoutCancel(ctx), user); err != nil {
		s.mu.Unlock()
		s.logger.Error("Failed to append user message", slog.String(errLoggerKey, err.Error()))
		return Ticket{}, fmt.Errorf("failed to append user message: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &session{
		id:     uuid.New().String(),
		ctx:    sessCtx,
		cancel: cancel,
		status: StatusActive,
	}
	s.session = sess
	s.state = StateRequesting
	client, streaming := s.client, s.streaming

	s.view.InputEnabled(false)
	s.view.Committed(sess.id, user)
	s.mu.Unlock()

	s.logger.Debug("Session started",
		slog.String("session", sess.id),
		slog.Bool("streaming", streaming))

	done := make(chan Reply, 1)
	go func() {
		defer close(done)
		done <- s.run(sess, client, streaming, text)
	}()

	return Ticket{
		SessionID: sess.id,
		User:      user,
		Done:      done,
	}, nil
}

// Submit is Start followed by waiting for the reply.
func (s *Synchronizer) Submit(ctx context.Context, text string) (Reply, error) {
	t, err := s.Start(ctx, text)
	if err != nil {
		return Reply{}, err
	}
	return <-t.Done, nil
}

// Clear discards the in-progress reply, if any, and empties the transcript.
func (s *Synchronizer) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess := s.session; sess != nil {
		sess.status = StatusCancelled
		sess.cancel()
		s.view.Discarded(sess.id)
		s.session = nil
		s.state = StateIdle
		s.logger.Debug("Session superseded", slog.String("session", sess.id))
	}

	if err := s.transcript.Clear(ctx); err != nil {
		s.view.InputEnabled(true)
		return fmt.Errorf("failed to clear transcript: %w", err)
	}
	s.view.Cleared()
	s.view.InputEnabled(true)
	return nil
}

func (s *Synchronizer) run(sess *session, client Client, streaming bool, text string) Reply {
	defer sess.cancel()

	if client == nil {
		return s.fail(sess, &models.PreconditionError{Reason: "completion client is not configured"})
	}

	p := s.assembler.Assemble(text)

	var err error
	if streaming {
		err = s.consume(sess, client.SendStreaming(sess.ctx, p))
	} else {
		var reply string
		reply, err = client.Send(sess.ctx, p)
		if err == nil && !s.apply(sess, reply) {
			err = ErrSuperseded
		}
	}
	if err != nil {
		return s.fail(sess, err)
	}
	return s.commit(sess)
}

func (s *Synchronizer) consume(sess *session, fragments iter.Seq2[string, error]) error {
	for fragment, err := range fragments {
		if err != nil {
			return err
		}
		if !s.apply(sess, fragment) {
			return ErrSuperseded
		}
	}
	return nil
}

// apply appends fragment to the draft of sess and reports whether sess is still the active session.
func (s *Synchronizer) apply(sess *session, fragment string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != sess {
		return false
	}
	if s.state == StateRequesting {
		s.state = StateStreaming
	}
	if fragment == "" {
		return true
	}
	sess.draft.WriteString(fragment)
	s.view.Draft(sess.id, sess.draft.String())
	return true
}

func (s *Synchronizer) commit(sess *session) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != sess {
		return cancelled(sess)
	}

	s.state = StateFinalizing
	content := sess.draft.String()
	if content == "" {
		return s.failLocked(sess, &models.MalformedResponseError{Detail: "empty reply"})
	}

	msg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   content,
		CreatedAt: s.now(),
	}
	if err := s.transcript.Append(context.WithoutCancel(sess.ctx), msg); err != nil {
		return s.failLocked(sess, fmt.Errorf("failed to store reply: %w", err))
	}

	sess.status = StatusCompleted
	s.state = StateCommitted
	s.view.Committed(sess.id, msg)
	s.resetLocked()

	s.logger.Debug("Reply committed",
		slog.String("session", sess.id),
		slog.Int("length", len(content)))

	return Reply{
		SessionID: sess.id,
		Status:    StatusCompleted,
		Message:   msg,
	}
}

func (s *Synchronizer) fail(sess *session, cause error) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != sess {
		return cancelled(sess)
	}
	return s.failLocked(sess, cause)
}

func (s *Synchronizer) failLocked(sess *session, cause error) Reply {
	sess.status = StatusFailed
	s.state = StateFailed

	s.logger.Error("Reply failed",
		slog.String("session", sess.id),
		slog.String(errLoggerKey, cause.Error()))

	msg := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Content:   Diagnostic(cause),
		CreatedAt: s.now(),
	}
	if err := s.transcript.Append(context.WithoutCancel(sess.ctx), msg); err != nil {
		s.logger.Error("Failed to append diagnostic",
			slog.String("session", sess.id),
			slog.String(errLoggerKey, err.Error()))
		s.view.Discarded(sess.id)
		s.view.Notify(errors.Join(cause, err))
		s.resetLocked()
		return Reply{
			SessionID: sess.id,
			Status:    StatusFailed,
			Err:       errors.Join(cause, err),
		}
	}

	s.view.Committed(sess.id, msg)
	s.view.Notify(cause)
	s.resetLocked()

	return Reply{
		SessionID: sess.id,
		Status:    StatusFailed,
		Message:   msg,
		Err:       cause,
	}
}

// resetLocked returns to idle and re-enables input.
func (s *Synchronizer) resetLocked() {
	s.session = nil
	s.state = StateIdle
	s.view.InputEnabled(true)
}

func cancelled(sess *session) Reply {
	return Reply{
		SessionID: sess.id,
		Status:    StatusCancelled,
		Err:       ErrSuperseded,
	}
}

// Diagnostic formats err as the content of the assistant message standing in for a failed reply. The
// result is never empty.
func Diagnostic(err error) string {
	var (
		pe *models.PreconditionError
		te *models.TransportError
		me *models.MalformedResponseError
	)

	var detail string
	switch {
	case errors.As(err, &pe):
		detail = "the assistant is not configured: " + pe.Reason
	case errors.As(err, &te):
		detail = "the assistant could not be reached: " + te.Error()
	case errors.As(err, &me):
		detail = "the assistant sent an unexpected response: " + me.Error()
	case err != nil:
		detail = err.Error()
	}
	if strings.TrimSpace(detail) == "" {
		detail = "unknown error"
	}
	return "❌ Error: " + detail
}
