package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists rooms, messages and calls in PostgreSQL. It
// shares the database the REST layer writes rooms and users into.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS room_participants (
			room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			PRIMARY KEY (room_id, user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			sender_id TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			message_type TEXT NOT NULL DEFAULT 'text',
			status TEXT NOT NULL DEFAULT 'sent',
			file_name TEXT NOT NULL DEFAULT '',
			file_type TEXT NOT NULL DEFAULT '',
			file_size BIGINT NOT NULL DEFAULT 0,
			file_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages (room_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS attachments (
			locator TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			mime TEXT NOT NULL,
			data BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS calls (
			id TEXT PRIMARY KEY,
			room_id TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
			initiator_id TEXT NOT NULL,
			receiver_id TEXT NOT NULL,
			call_type TEXT NOT NULL DEFAULT 'voice',
			status TEXT NOT NULL DEFAULT 'requesting',
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			ended_at TIMESTAMPTZ,
			duration_ms BIGINT
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `SELECT id, email FROM users WHERE id=$1`, id).Scan(&u.ID, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, id string) (Room, error) {
	var r Room
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, is_active, created_at FROM rooms WHERE id=$1`, id,
	).Scan(&r.ID, &r.Name, &r.Active, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Room{}, ErrRoomNotFound
	}
	if err != nil {
		return Room{}, fmt.Errorf("get room: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM room_participants WHERE room_id=$1`, id)
	if err != nil {
		return Room{}, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return Room{}, fmt.Errorf("scan participant: %w", err)
		}
		r.Participants = append(r.Participants, userID)
	}
	if err := rows.Err(); err != nil {
		return Room{}, fmt.Errorf("iterate participants: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) CreateMessage(ctx context.Context, msg Message, attachment *Attachment) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Status == "" {
		msg.Status = "sent"
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if attachment != nil {
		locator := attachment.Locator
		if locator == "" {
			locator = "/media/chat/" + uuid.NewString() + "/" + attachment.Name
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO attachments (locator, name, mime, data) VALUES ($1, $2, $3, $4)`,
			locator, attachment.Name, attachment.MIME, attachment.Data,
		); err != nil {
			return Message{}, fmt.Errorf("save attachment: %w", err)
		}
		msg.FileURL = locator
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (id, room_id, sender_id, content, message_type, status, file_name, file_type, file_size, file_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		msg.ID, msg.RoomID, msg.SenderID, msg.Content, msg.MessageType, msg.Status,
		msg.FileName, msg.FileType, msg.FileSize, msg.FileURL, msg.CreatedAt,
	); err != nil {
		return Message{}, fmt.Errorf("save message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("commit message: %w", err)
	}
	return msg, nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, locator string) (Attachment, error) {
	a := Attachment{Locator: locator}
	err := s.pool.QueryRow(ctx,
		`SELECT name, mime, data FROM attachments WHERE locator=$1`, locator,
	).Scan(&a.Name, &a.MIME, &a.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Attachment{}, ErrAttachmentNotFound
	}
	if err != nil {
		return Attachment{}, fmt.Errorf("get attachment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) CreateCall(ctx context.Context, call Call) (Call, error) {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.StartedAt.IsZero() {
		call.StartedAt = time.Now().UTC()
	}
	if call.Status == "" {
		call.Status = CallRequesting
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO calls (id, room_id, initiator_id, receiver_id, call_type, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		call.ID, call.RoomID, call.InitiatorID, call.ReceiverID, call.CallType, call.Status, call.StartedAt,
	)
	if err != nil {
		return Call{}, fmt.Errorf("save call: %w", err)
	}
	return call, nil
}

func (s *PostgresStore) GetCall(ctx context.Context, id string) (Call, error) {
	c, err := scanCall(s.pool.QueryRow(ctx,
		`SELECT id, room_id, initiator_id, receiver_id, call_type, status, started_at, ended_at, duration_ms
		 FROM calls WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Call{}, ErrCallNotFound
	}
	if err != nil {
		return Call{}, fmt.Errorf("get call: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) TransitionCall(ctx context.Context, id string, from, to CallStatus) (Call, error) {
	// The conditional update makes concurrent transitions race-safe: only
	// one writer observes the expected status.
	c, err := scanCall(s.pool.QueryRow(ctx,
		`UPDATE calls SET
			status = $3,
			ended_at = CASE WHEN $3 IN ('rejected','ended') THEN now() ELSE ended_at END,
			duration_ms = CASE WHEN $3 = 'ended' THEN (EXTRACT(EPOCH FROM now() - started_at) * 1000)::BIGINT ELSE duration_ms END
		 WHERE id = $1 AND status = $2
		 RETURNING id, room_id, initiator_id, receiver_id, call_type, status, started_at, ended_at, duration_ms`,
		id, from, to))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetCall(ctx, id); errors.Is(getErr, ErrCallNotFound) {
			return Call{}, ErrCallNotFound
		}
		return Call{}, ErrCallConflict
	}
	if err != nil {
		return Call{}, fmt.Errorf("transition call: %w", err)
	}
	return c, nil
}

func scanCall(row pgx.Row) (Call, error) {
	var (
		c          Call
		endedAt    *time.Time
		durationMS *int64
	)
	if err := row.Scan(&c.ID, &c.RoomID, &c.InitiatorID, &c.ReceiverID, &c.CallType, &c.Status, &c.StartedAt, &endedAt, &durationMS); err != nil {
		return Call{}, err
	}
	c.EndedAt = endedAt
	if durationMS != nil {
		d := time.Duration(*durationMS) * time.Millisecond
		c.Duration = &d
	}
	return c, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
