package conversationctrl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"docqa/src/core/rag"
)

type Conversation struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title     string    `gorm:"not null" json:"title"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

type Message struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	ConversationID string    `gorm:"not null;index;type:varchar(36)" json:"conversation_id"`
	Role           string    `gorm:"not null;type:varchar(16)" json:"role"`
	Content        string    `gorm:"not null;type:text" json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

type Repository struct {
	db        *gorm.DB
	snowflake *snowflake.Node
}

func NewRepository(db *gorm.DB) (*Repository, error) {
	node, err := snowflake.NewNode(3) // Node number 3 for messages
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %v", err)
	}

	if err := db.AutoMigrate(&Conversation{}, &Message{}); err != nil {
		return nil, fmt.Errorf("failed to migrate conversations: %w", err)
	}

	return &Repository{
		db:        db,
		snowflake: node,
	}, nil
}

// AppendTurn stores the question and the answer as two messages in one
// transaction. A conversation is created when turn.ConversationID is empty.
func (r *Repository) AppendTurn(ctx context.Context, turn rag.Turn) (*rag.Conversation, error) {
	var conv Conversation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if turn.ConversationID == "" {
			conv = Conversation{
				ID:    uuid.NewString(),
				Title: turn.Title,
			}
			if err := tx.Create(&conv).Error; err != nil {
				return fmt.Errorf("failed to create conversation: %v", err)
			}
		} else {
			err := tx.First(&conv, "id = ?", turn.ConversationID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return rag.NotFoundError("conversation %s not found", turn.ConversationID)
			}
			if err != nil {
				return fmt.Errorf("failed to get conversation: %v", err)
			}
		}

		// Snowflake ids keep the user message ahead of the answer.
		messages := []Message{
			{
				ID:             r.snowflake.Generate().Int64(),
				ConversationID: conv.ID,
				Role:           string(rag.RoleUser),
				Content:        turn.Question,
			},
			{
				ID:             r.snowflake.Generate().Int64(),
				ConversationID: conv.ID,
				Role:           string(rag.RoleAssistant),
				Content:        turn.Answer,
			},
		}
		if err := tx.Create(&messages).Error; err != nil {
			return fmt.Errorf("failed to create messages: %v", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &rag.Conversation{ID: conv.ID, Title: conv.Title, CreatedAt: conv.CreatedAt}, nil
}

func (r *Repository) Get(ctx context.Context, id string) (*rag.Conversation, error) {
	var conv Conversation
	result := r.db.WithContext(ctx).First(&conv, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation: %v", result.Error)
	}
	return &rag.Conversation{ID: conv.ID, Title: conv.Title, CreatedAt: conv.CreatedAt}, nil
}

// List returns conversations newest first.
func (r *Repository) List(ctx context.Context) ([]rag.Conversation, error) {
	var convs []Conversation
	result := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&convs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list conversations: %v", result.Error)
	}

	out := make([]rag.Conversation, len(convs))
	for i, c := range convs {
		out[i] = rag.Conversation{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt}
	}
	return out, nil
}

func (r *Repository) Messages(ctx context.Context, conversationID string) ([]rag.Message, error) {
	var msgs []Message
	result := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Find(&msgs)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list messages: %v", result.Error)
	}

	out := make([]rag.Message, len(msgs))
	for i, m := range msgs {
		out[i] = rag.Message{
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Role:           rag.Role(m.Role),
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
		}
	}
	return out, nil
}
