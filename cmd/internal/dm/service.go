package dm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"protoimsg/cmd/internal/moderation"
)

// DefaultFilterReason is reported when the filter rejects without a reason of its own.
const DefaultFilterReason = "Message blocked by content filter"

// RejectedError is a send refusal whose Reason is shown to the sender verbatim.
type RejectedError struct {
	Reason string
	Err    error
}

func (e *RejectedError) Error() string { return e.Reason }
func (e *RejectedError) Unwrap() error { return e.Err }

// ErrFiltered marks a RejectedError produced by the content filter.
var ErrFiltered = errors.New("dm: blocked by content filter")

// ErrTooLong marks a RejectedError for oversize text.
var ErrTooLong = errors.New("dm: message too long")

func reject(reason string, err error) error {
	return &RejectedError{Reason: reason, Err: err}
}

type OpenResult struct {
	Conversation Conversation
	// Messages is empty unless the conversation is persisted.
	Messages []Message
}

type SendResult struct {
	Message      Message
	RecipientDID string
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for prune reports.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// Service applies conversation rules on top of a Store.
type Service struct {
	store  Store
	filter moderation.ContentFilter
	now    func() time.Time
	log    *slog.Logger
}

// NewService builds a Service. A nil filter passes everything.
func NewService(store Store, filter moderation.ContentFilter, opts ...Option) *Service {
	s := &Service{
		store:  store,
		filter: filter,
		now:    time.Now,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Open upserts the conversation between sender and recipient. History is loaded only for
// persisted conversations.
func (s *Service) Open(ctx context.Context, sender, recipient string) (OpenResult, error) {
	if sender == recipient {
		return OpenResult{}, ErrSelf
	}
	p1, p2 := SortPair(sender, recipient)
	conv, err := s.store.UpsertConversation(ctx, ConversationID(p1, p2), p1, p2, s.now().UTC())
	if err != nil {
		return OpenResult{}, fmt.Errorf("dm: open: %w", err)
	}
	out := OpenResult{Conversation: conv}
	if conv.Persist {
		out.Messages, err = s.store.Messages(ctx, conv.ID, HistoryLimit)
		if err != nil {
			return OpenResult{}, fmt.Errorf("dm: history: %w", err)
		}
	}
	return out, nil
}

// Conversation returns the conversation if did participates in it.
func (s *Service) Conversation(ctx context.Context, id, did string) (Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	if !conv.HasParticipant(did) {
		return Conversation{}, ErrNotParticipant
	}
	return conv, nil
}

// Send stores a message from sender. Refusals are *RejectedError values carrying the text
// for the sender; storage failures are returned wrapped.
func (s *Service) Send(ctx context.Context, conversationID, sender, text string) (SendResult, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, ErrNotFound) {
		return SendResult{}, reject("Conversation not found", ErrNotFound)
	}
	if err != nil {
		return SendResult{}, fmt.Errorf("dm: send: %w", err)
	}
	if !conv.HasParticipant(sender) {
		return SendResult{}, reject("Not a participant", ErrNotParticipant)
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return SendResult{}, reject(fmt.Sprintf("Message exceeds %d characters", MaxMessageLength), ErrTooLong)
	}
	if s.filter != nil {
		if v := s.filter.Classify(text); !v.Passed {
			reason := strings.TrimSpace(v.Reason)
			if reason == "" {
				reason = DefaultFilterReason
			}
			return SendResult{}, reject(reason, ErrFiltered)
		}
	}

	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderDID:      sender,
		Text:           text,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		if errors.Is(err, ErrNotFound) {
			return SendResult{}, reject("Conversation not found", ErrNotFound)
		}
		return SendResult{}, fmt.Errorf("dm: send: %w", err)
	}
	return SendResult{Message: msg, RecipientDID: conv.Other(sender)}, nil
}

// TogglePersist sets the persist flag. Only participants may change it.
func (s *Service) TogglePersist(ctx context.Context, conversationID, did string, persist bool) error {
	if _, err := s.Conversation(ctx, conversationID, did); err != nil {
		return err
	}
	return s.store.SetPersist(ctx, conversationID, persist, s.now().UTC())
}

// CleanupIfEmpty deletes an ephemeral conversation once nobody is subscribed to it.
// It reports whether the conversation is gone.
func (s *Service) CleanupIfEmpty(ctx context.Context, conversationID string) (bool, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if conv.Persist {
		return false, nil
	}
	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		return false, err
	}
	return true, nil
}

// PruneExpired drops persisted messages older than Retention, then persisted conversations
// left without messages.
func (s *Service) PruneExpired(ctx context.Context) error {
	deleted, err := s.store.PruneMessages(ctx, s.now().UTC().Add(-Retention))
	if err != nil {
		return fmt.Errorf("dm: prune messages: %w", err)
	}
	if deleted == 0 {
		return nil
	}
	pruned, err := s.store.PruneEmpty(ctx)
	if err != nil {
		return fmt.Errorf("dm: prune conversations: %w", err)
	}
	s.log.Info("dm.prune.ok", "messages", deleted, "conversations", pruned)
	return nil
}

// Preview truncates text to PreviewLength characters.
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= PreviewLength {
		return text
	}
	r := []rune(text)
	return string(r[:PreviewLength])
}
