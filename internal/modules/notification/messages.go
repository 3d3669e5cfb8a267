package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tiffin/internal/types"
)

type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	ListFor(ctx context.Context, actor types.Actor) ([]Message, error)
}

type MessageStore struct {
	db *pgxpool.Pool
}

func NewMessageStore(db *pgxpool.Pool) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) Create(ctx context.Context, m *Message) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO messages (id, recipient_role, recipient_id, title, body, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING created_at`,
		m.ID, string(m.RecipientRole), string(m.RecipientID), m.Title, m.Body,
	).Scan(&m.CreatedAt)
}

func (s *MessageStore) ListFor(ctx context.Context, actor types.Actor) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id::text, recipient_role, recipient_id, title, body, created_at
		FROM messages
		WHERE recipient_role = $1 AND recipient_id = $2
		ORDER BY created_at`,
		string(actor.Role), string(actor.ID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RecipientRole, &m.RecipientID, &m.Title, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type MemMessageStore struct {
	mu   sync.Mutex
	msgs []Message
}

func NewMemMessageStore() *MemMessageStore {
	return &MemMessageStore{}
}

func (m *MemMessageStore) Create(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.CreatedAt = time.Now().UTC()
	m.msgs = append(m.msgs, *msg)
	return nil
}

func (m *MemMessageStore) ListFor(_ context.Context, actor types.Actor) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.msgs {
		if msg.RecipientRole == actor.Role && msg.RecipientID == actor.ID {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
