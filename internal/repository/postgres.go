package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chat-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

const userColumns = `id, email, full_name, password_hash, profile_pic, online, last_seen, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.ProfilePic, &u.Online, &u.LastSeen, &u.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (p *Postgres) queryUsers(ctx context.Context, query string, args ...any) ([]models.User, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, translate(err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (p *Postgres) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	query := `INSERT INTO users (id, email, full_name, password_hash, profile_pic)
		VALUES ($1, $2, $3, $4, $5) RETURNING last_seen, created_at`
	err := p.pool.QueryRow(ctx, query, u.ID, u.Email, u.FullName, u.PasswordHash, u.ProfilePic).
		Scan(&u.LastSeen, &u.CreatedAt)
	return translate(err)
}

func (p *Postgres) GetUser(ctx context.Context, id string) (*models.User, error) {
	return scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (p *Postgres) GetUsers(ctx context.Context, ids []string) ([]models.User, error) {
	return p.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1) ORDER BY id`, ids)
}

func (p *Postgres) ListUsers(ctx context.Context) ([]models.User, error) {
	return p.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
}

func (p *Postgres) SearchUsers(ctx context.Context, query string) ([]models.User, error) {
	return p.queryUsers(ctx, `SELECT `+userColumns+` FROM users
		WHERE full_name ILIKE '%' || $1 || '%' ORDER BY created_at DESC`, query)
}

func (p *Postgres) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `UPDATE users SET online = $2, last_seen = $3
		WHERE id = $1 AND last_seen <= $3`, userID, online, at)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		// Either the user is gone or a newer presence write already landed.
		var exists bool
		if err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return translate(err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

const chatColumns = `c.id, c.is_group, c.group_name, COALESCE(c.group_admin, ''),
	COALESCE(c.last_message_id, ''), c.last_message_at, c.created_at,
	ARRAY(SELECT cp.user_id FROM chat_participants cp WHERE cp.chat_id = c.id ORDER BY cp.user_id)`

func scanChat(row pgx.Row, extra ...any) (*models.Chat, error) {
	var c models.Chat
	dest := []any{&c.ID, &c.IsGroup, &c.GroupName, &c.GroupAdmin, &c.LastMessageID, &c.LastMessageAt, &c.CreatedAt, &c.Participants}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (p *Postgres) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	return scanChat(p.pool.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats c WHERE c.id = $1`, id))
}

func (p *Postgres) CreateGroupChat(ctx context.Context, c *models.Chat) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return translate(err)
	}
	defer tx.Rollback(ctx)

	var admin *string
	if c.GroupAdmin != "" {
		admin = &c.GroupAdmin
	}
	_, err = tx.Exec(ctx, `INSERT INTO chats (id, is_group, group_name, group_admin, created_at)
		VALUES ($1, TRUE, $2, $3, $4)`, c.ID, c.GroupName, admin, c.CreatedAt)
	if err != nil {
		return translate(err)
	}
	if err := insertParticipants(ctx, tx, c.ID, c.Participants); err != nil {
		return translate(err)
	}
	return tx.Commit(ctx)
}

func insertParticipants(ctx context.Context, tx pgx.Tx, chatID string, ids []string) error {
	_, err := tx.Exec(ctx, `INSERT INTO chat_participants (chat_id, user_id)
		SELECT $1, unnest($2::text[]) ON CONFLICT DO NOTHING`, chatID, ids)
	return translate(err)
}

func (p *Postgres) FindOrCreateDirectChat(ctx context.Context, a, b string, at time.Time) (*models.Chat, bool, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, false, translate(err)
	}
	defer tx.Rollback(ctx)

	// A concurrent insert of the same key blocks on the unique index until
	// the first transaction commits, then takes the DO UPDATE branch.
	var (
		id       string
		inserted bool
	)
	err = tx.QueryRow(ctx, `INSERT INTO chats (id, is_group, direct_key, created_at)
		VALUES ($1, FALSE, $2, $3)
		ON CONFLICT (direct_key) DO UPDATE SET direct_key = EXCLUDED.direct_key
		RETURNING id, (xmax = 0)`, uuid.New().String(), models.DirectKey(a, b), at).Scan(&id, &inserted)
	if err != nil {
		return nil, false, translate(err)
	}
	if inserted {
		if err := insertParticipants(ctx, tx, id, []string{a, b}); err != nil {
			return nil, false, translate(err)
		}
	}

	chat, err := scanChat(tx.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats c WHERE c.id = $1`, id))
	if err != nil {
		return nil, false, translate(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, translate(err)
	}
	return chat, inserted, nil
}

func (p *Postgres) FindChatByParticipants(ctx context.Context, ids []string) (*models.Chat, error) {
	ids = models.NormalizeIDs(ids)
	return scanChat(p.pool.QueryRow(ctx, `SELECT `+chatColumns+` FROM chats c
		WHERE ARRAY(SELECT cp.user_id FROM chat_participants cp WHERE cp.chat_id = c.id ORDER BY cp.user_id) = $1::text[]
		ORDER BY c.created_at LIMIT 1`, ids))
}

func (p *Postgres) ListChats(ctx context.Context, userID string) ([]models.ChatView, error) {
	query := `SELECT ` + chatColumns + `,
		(SELECT count(*) FROM messages m
			WHERE m.chat_id = c.id
			AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = $1))
		FROM chats c
		JOIN chat_participants me ON me.chat_id = c.id AND me.user_id = $1
		ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC`
	rows, err := p.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var views []models.ChatView
	for rows.Next() {
		var unread int64
		c, err := scanChat(rows, &unread)
		if err != nil {
			return nil, translate(err)
		}
		views = append(views, models.ChatView{Chat: *c, UnreadCount: int(unread)})
	}
	return views, rows.Err()
}

func (p *Postgres) SearchGroupChats(ctx context.Context, query string) ([]models.Chat, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+chatColumns+` FROM chats c
		WHERE c.is_group AND c.group_name ILIKE '%' || $1 || '%'
		ORDER BY c.created_at DESC`, query)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var chats []models.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, translate(err)
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

func (p *Postgres) CreateMessage(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	// Postgres keeps microseconds; align the in-memory value with what is stored.
	m.CreatedAt = m.CreatedAt.Truncate(time.Microsecond)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return translate(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `INSERT INTO messages (id, chat_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`, m.ID, m.ChatID, m.SenderID, m.Content, m.CreatedAt); err != nil {
		return translate(err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO message_reads (message_id, user_id, read_at)
		VALUES ($1, $2, $3)`, m.ID, m.SenderID, m.CreatedAt); err != nil {
		return translate(err)
	}
	// Zero rows affected means a newer message already owns the pointer.
	if _, err := tx.Exec(ctx, `UPDATE chats SET last_message_id = $1, last_message_at = $2
		WHERE id = $3 AND (last_message_at IS NULL OR last_message_at <= $2)`, m.ID, m.CreatedAt, m.ChatID); err != nil {
		return translate(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	m.ReadBy = []string{m.SenderID}
	return nil
}

const messageColumns = `m.id, m.chat_id, m.sender_id, m.content, m.created_at,
	ARRAY(SELECT r.user_id FROM message_reads r WHERE r.message_id = m.id ORDER BY r.read_at, r.user_id)`

func (p *Postgres) queryMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt, &m.ReadBy); err != nil {
			return nil, translate(err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (p *Postgres) GetMessages(ctx context.Context, ids []string) ([]models.Message, error) {
	return p.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = ANY($1)`, ids)
}

func (p *Postgres) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	return p.queryMessages(ctx, `SELECT `+messageColumns+` FROM messages m
		WHERE m.chat_id = $1 ORDER BY m.created_at ASC, m.id ASC`, chatID)
}

func (p *Postgres) MarkRead(ctx context.Context, messageIDs []string, userID string, at time.Time) ([]models.ReadMark, error) {
	query := `WITH ins AS (
			INSERT INTO message_reads (message_id, user_id, read_at)
			SELECT m.id, $2, $3 FROM messages m
			JOIN chat_participants cp ON cp.chat_id = m.chat_id AND cp.user_id = $2
			WHERE m.id = ANY($1)
			ON CONFLICT DO NOTHING
			RETURNING message_id
		)
		SELECT ins.message_id, m.chat_id FROM ins JOIN messages m ON m.id = ins.message_id
		ORDER BY m.created_at`
	rows, err := p.pool.Query(ctx, query, messageIDs, userID, at)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var marks []models.ReadMark
	for rows.Next() {
		mark := models.ReadMark{UserID: userID}
		if err := rows.Scan(&mark.MessageID, &mark.ChatID); err != nil {
			return nil, translate(err)
		}
		marks = append(marks, mark)
	}
	return marks, rows.Err()
}
