package rag

import (
	"context"
	"fmt"
)

// ConversationService exposes conversation history.
type ConversationService struct {
	repo ConversationRepository
}

func NewConversationService(repo ConversationRepository) *ConversationService {
	return &ConversationService{repo: repo}
}

func (s *ConversationService) List(ctx context.Context) ([]Conversation, error) {
	convs, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return convs, nil
}

func (s *ConversationService) Messages(ctx context.Context, conversationID string) ([]Message, error) {
	conv, err := s.repo.Get(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return nil, NotFoundError("conversation %s not found", conversationID)
	}

	msgs, err := s.repo.Messages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}
