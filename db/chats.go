package db

import (
	"fmt"

	"chatd/models"
)

const chatColumns = `id, chat_type, chat_name, chat_description, public_link, creator_id, created_at, updated_at`

func scanChat(row rowScanner) (*models.Chat, error) {
	var (
		c                models.Chat
		created, updated string
	)
	err := row.Scan(&c.ID, &c.ChatType, &c.ChatName, &c.Description, &c.PublicLink, &c.CreatorID, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	return &c, nil
}

// CreateChat stores c and enrolls its creator with the creator role in one
// transaction.
func (db *DB) CreateChat(c *models.Chat) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("db: create chat: %w", err)
	}
	defer tx.Rollback()

	now := db.timestamp()
	result, err := tx.Exec(
		`INSERT INTO chats (chat_type, chat_name, chat_description, public_link, creator_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ChatType, c.ChatName, c.Description, c.PublicLink, c.CreatorID, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("db: create chat: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("db: create chat: %w", err)
	}

	_, err = tx.Exec(
		"INSERT INTO chat_participants (chat_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)",
		id, c.CreatorID, models.RoleCreator, now,
	)
	if err != nil {
		return 0, fmt.Errorf("db: enroll creator of chat %d: %w", id, classify(err))
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("db: create chat: %w", err)
	}
	return id, nil
}

func (db *DB) GetChat(id int64) (*models.Chat, error) {
	row := db.conn.QueryRow("SELECT "+chatColumns+" FROM chats WHERE id = ?", id)
	c, err := scanChat(row)
	if err != nil {
		return nil, fmt.Errorf("db: get chat %d: %w", id, classify(err))
	}
	return c, nil
}

// ListUserChats returns the chats userID participates in.
func (db *DB) ListUserChats(userID int64) ([]models.Chat, error) {
	rows, err := db.conn.Query(
		`SELECT c.id, c.chat_type, c.chat_name, c.chat_description, c.public_link, c.creator_id,
			c.created_at, c.updated_at
		FROM chats c JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC, c.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("db: list chats of %d: %w", userID, err)
	}
	defer rows.Close()

	var chats []models.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("db: list chats of %d: %w", userID, err)
		}
		chats = append(chats, *c)
	}
	return chats, rows.Err()
}

func (db *DB) UpdateChat(c *models.Chat) error {
	result, err := db.conn.Exec(
		`UPDATE chats SET chat_type = ?, chat_name = ?, chat_description = ?, public_link = ?, updated_at = ?
		WHERE id = ?`,
		c.ChatType, c.ChatName, c.Description, c.PublicLink, db.timestamp(), c.ID,
	)
	if err != nil {
		return fmt.Errorf("db: update chat %d: %w", c.ID, err)
	}
	if err := affected(result); err != nil {
		return fmt.Errorf("db: update chat %d: %w", c.ID, err)
	}
	return nil
}

// DeleteChat removes the chat; participants and messages cascade.
func (db *DB) DeleteChat(id int64) error {
	result, err := db.conn.Exec("DELETE FROM chats WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("db: delete chat %d: %w", id, err)
	}
	if err := affected(result); err != nil {
		return fmt.Errorf("db: delete chat %d: %w", id, err)
	}
	return nil
}

func (db *DB) IsParticipant(chatID, userID int64) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM chat_participants WHERE chat_id = ? AND user_id = ?",
		chatID, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("db: is participant %d/%d: %w", chatID, userID, err)
	}
	return count > 0, nil
}

const participantQuery = `SELECT p.id, p.chat_id, p.user_id, COALESCE(u.username, ''), p.role, p.joined_at
	FROM chat_participants p LEFT JOIN users u ON u.id = p.user_id`

func scanParticipant(row rowScanner) (*models.ChatParticipant, error) {
	var (
		p      models.ChatParticipant
		joined string
	)
	if err := row.Scan(&p.ID, &p.ChatID, &p.UserID, &p.Username, &p.Role, &joined); err != nil {
		return nil, err
	}
	p.JoinedAt = parseTime(joined)
	return &p, nil
}

func (db *DB) GetParticipant(chatID, userID int64) (*models.ChatParticipant, error) {
	row := db.conn.QueryRow(participantQuery+" WHERE p.chat_id = ? AND p.user_id = ?", chatID, userID)
	p, err := scanParticipant(row)
	if err != nil {
		return nil, fmt.Errorf("db: get participant %d/%d: %w", chatID, userID, classify(err))
	}
	return p, nil
}

func (db *DB) ListParticipants(chatID int64) ([]models.ChatParticipant, error) {
	rows, err := db.conn.Query(participantQuery+" WHERE p.chat_id = ? ORDER BY p.id", chatID)
	if err != nil {
		return nil, fmt.Errorf("db: list participants of %d: %w", chatID, err)
	}
	defer rows.Close()

	var participants []models.ChatParticipant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("db: list participants of %d: %w", chatID, err)
		}
		participants = append(participants, *p)
	}
	return participants, rows.Err()
}

func (db *DB) AddParticipant(p *models.ChatParticipant) (int64, error) {
	result, err := db.conn.Exec(
		"INSERT INTO chat_participants (chat_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)",
		p.ChatID, p.UserID, p.Role, db.timestamp(),
	)
	if err != nil {
		return 0, fmt.Errorf("db: add participant %d/%d: %w", p.ChatID, p.UserID, classify(err))
	}
	return result.LastInsertId()
}

func (db *DB) UpdateParticipantRole(chatID, userID int64, role string) error {
	result, err := db.conn.Exec(
		"UPDATE chat_participants SET role = ? WHERE chat_id = ? AND user_id = ?",
		role, chatID, userID,
	)
	if err != nil {
		return fmt.Errorf("db: update role %d/%d: %w", chatID, userID, err)
	}
	if err := affected(result); err != nil {
		return fmt.Errorf("db: update role %d/%d: %w", chatID, userID, err)
	}
	return nil
}

func (db *DB) RemoveParticipant(chatID, userID int64) error {
	result, err := db.conn.Exec(
		"DELETE FROM chat_participants WHERE chat_id = ? AND user_id = ?",
		chatID, userID,
	)
	if err != nil {
		return fmt.Errorf("db: remove participant %d/%d: %w", chatID, userID, err)
	}
	if err := affected(result); err != nil {
		return fmt.Errorf("db: remove participant %d/%d: %w", chatID, userID, err)
	}
	return nil
}
