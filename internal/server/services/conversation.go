package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nexuschat/nexus/internal/common"
	"github.com/nexuschat/nexus/internal/dbx"
	"github.com/nexuschat/nexus/internal/server/config"
	"github.com/nexuschat/nexus/internal/server/models"
	"github.com/nexuschat/nexus/internal/server/repositories/repomanager"
)

// Responder produces the assistant turn for prompt given the prior turns,
// oldest first.
type Responder interface {
	Respond(ctx context.Context, model string, history []*models.Message, prompt string) (string, error)
}

type ConversationService struct {
	db           dbx.Transactor
	repomanager  repomanager.RepositoryManager
	responder    Responder
	messageLimit int
	opts         options
}

func NewConversationService(db dbx.Transactor, m repomanager.RepositoryManager, responder Responder, cfg *config.Config, opts ...Option) *ConversationService {
	limit := cfg.MessageLimit
	if limit <= 0 {
		limit = 25
	}
	return &ConversationService{
		db:           db,
		repomanager:  m,
		responder:    responder,
		messageLimit: limit,
		opts:         newOptions(opts),
	}
}

func (s *ConversationService) Create(ctx context.Context, userID models.UserID, title string) (*models.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = models.DefaultConversationTitle
	}
	c := &models.Conversation{UserID: userID, Title: title}

	err := s.db.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Conversations(tx).Create(ctx, c)
	})
	if err != nil {
		return nil, internalError(ctx, s.opts.log, "create conversation", err)
	}
	return c, nil
}

// List returns the user's conversations, most recently active first.
func (s *ConversationService) List(ctx context.Context, userID models.UserID) ([]*models.Conversation, error) {
	list, err := s.repomanager.Conversations(s.db.Conn()).ListByUser(ctx, userID)
	if err != nil {
		return nil, internalError(ctx, s.opts.log, "list conversations", err)
	}
	return list, nil
}

// Delete removes the conversation with its messages and attachment rows.
func (s *ConversationService) Delete(ctx context.Context, userID models.UserID, id string) error {
	if !isUUID(id) {
		return common.ErrorNotFound
	}
	err := s.db.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Conversations(tx).Delete(ctx, id, userID)
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return internalError(ctx, s.opts.log, "delete conversation", err)
	}
	return nil
}

// Messages returns every turn of an owned conversation, oldest first.
func (s *ConversationService) Messages(ctx context.Context, userID models.UserID, conversationID string) ([]*models.Message, error) {
	if _, err := s.owned(ctx, s.db.Conn(), userID, conversationID); err != nil {
		return nil, err
	}
	list, err := s.repomanager.Messages(s.db.Conn()).ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, internalError(ctx, s.opts.log, "list messages", err)
	}
	return list, nil
}

// PostMessage asks the responder for a reply using the latest messages as
// context and stores both turns. When the responder fails nothing is stored
// and common.ErrUpstreamUnavailable is returned.
func (s *ConversationService) PostMessage(ctx context.Context, userID models.UserID, conversationID, text, model string) (*models.Message, error) {
	conn := s.db.Conn()
	if _, err := s.owned(ctx, conn, userID, conversationID); err != nil {
		return nil, err
	}

	history, err := s.repomanager.Messages(conn).Recent(ctx, conversationID, s.messageLimit)
	if err != nil {
		return nil, internalError(ctx, s.opts.log, "load history", err)
	}

	reply, err := s.responder.Respond(ctx, model, history, text)
	if err != nil {
		s.opts.log.Warn(ctx, "assistant failed", "conversation_id", conversationID, "error", err)
		return nil, common.ErrUpstreamUnavailable
	}

	now := s.opts.now()
	userMsg := &models.Message{ConversationID: conversationID, Role: models.RoleUser, Content: text, CreatedAt: now}
	// Keeps the pair ordered even at coarse clock resolution.
	answer := &models.Message{ConversationID: conversationID, Role: models.RoleAssistant, Content: reply, CreatedAt: now.Add(time.Microsecond)}

	err = s.db.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		msgs := s.repomanager.Messages(tx)
		if err := msgs.Create(ctx, userMsg); err != nil {
			return err
		}
		if err := msgs.Create(ctx, answer); err != nil {
			return err
		}
		return s.repomanager.Conversations(tx).Touch(ctx, conversationID, answer.CreatedAt)
	})
	if err != nil {
		return nil, internalError(ctx, s.opts.log, "store messages", err)
	}
	return answer, nil
}

func (s *ConversationService) owned(ctx context.Context, db dbx.DBTX, userID models.UserID, id string) (*models.Conversation, error) {
	return ownedConversation(ctx, s.repomanager, db, s.opts, userID, id)
}

// ownedConversation maps a missing, foreign or malformed id to
// common.ErrorNotFound.
func ownedConversation(ctx context.Context, m repomanager.RepositoryManager, db dbx.DBTX, o options, userID models.UserID, id string) (*models.Conversation, error) {
	if !isUUID(id) {
		return nil, common.ErrorNotFound
	}
	c, err := m.Conversations(db).GetOwned(ctx, id, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, internalError(ctx, o.log, "load conversation", err)
	}
	return c, nil
}

func isUUID(s string) bool {
	return uuid.Validate(s) == nil
}
