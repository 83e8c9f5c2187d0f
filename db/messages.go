package db

import (
	"database/sql"
	"fmt"

	"chatd/models"
)

const messageQuery = `SELECT m.id, m.chat_id, m.sender_id, m.content, m.message_type, m.media_id, m.sent_at,
		m.edited_at, m.is_deleted, m.view_count,
		md.id, md.file_name, md.file_path, md.file_size, md.media_type, md.transfer_id, md.uploaded_by, md.uploaded_at
	FROM messages m LEFT JOIN media md ON md.id = m.media_id`

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m        models.Message
		mediaID  sql.NullInt64
		sentAt   string
		editedAt sql.NullString

		mdID                          sql.NullInt64
		mdName, mdPath, mdType, mdTID sql.NullString
		mdSize, mdBy                  sql.NullInt64
		mdAt                          sql.NullString
	)
	err := row.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.MessageType, &mediaID, &sentAt,
		&editedAt, &m.IsDeleted, &m.ViewCount,
		&mdID, &mdName, &mdPath, &mdSize, &mdType, &mdTID, &mdBy, &mdAt)
	if err != nil {
		return nil, err
	}
	m.MediaID = fromNullInt(mediaID)
	m.SentAt = parseTime(sentAt)
	m.EditedAt = parseNullTime(editedAt)
	if mdID.Valid {
		m.Media = &models.Media{
			ID:         mdID.Int64,
			FileName:   mdName.String,
			FilePath:   mdPath.String,
			FileSize:   mdSize.Int64,
			MediaType:  mdType.String,
			TransferID: mdTID.String,
			UploadedBy: mdBy.Int64,
			UploadedAt: parseTime(mdAt.String),
		}
	}
	return &m, nil
}

func (db *DB) CreateMessage(m *models.Message) (int64, error) {
	id, err := db.insertMessage(db.conn, m)
	if err != nil {
		return 0, err
	}
	m.ID = id
	return id, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (db *DB) insertMessage(ex execer, m *models.Message) (int64, error) {
	if m.SentAt.IsZero() {
		m.SentAt = db.now().UTC()
	}
	result, err := ex.Exec(
		`INSERT INTO messages (chat_id, sender_id, content, message_type, media_id, sent_at, view_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ChatID, m.SenderID, m.Content, m.MessageType, nullInt(m.MediaID), formatTime(m.SentAt), m.ViewCount,
	)
	if err != nil {
		return 0, fmt.Errorf("db: create message in chat %d: %w", m.ChatID, classify(err))
	}
	return result.LastInsertId()
}

// CreateMediaMessage stores media and the message that carries it in one
// transaction, filling in the generated ids.
func (db *DB) CreateMediaMessage(m *models.Message, media *models.Media) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("db: create media message: %w", err)
	}
	defer tx.Rollback()

	if media.UploadedAt.IsZero() {
		media.UploadedAt = db.now().UTC()
	}
	result, err := tx.Exec(
		`INSERT INTO media (file_name, file_path, file_size, media_type, transfer_id, uploaded_by, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		media.FileName, media.FilePath, media.FileSize, media.MediaType, media.TransferID,
		media.UploadedBy, formatTime(media.UploadedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("db: create media %s: %w", media.FileName, err)
	}
	if media.ID, err = result.LastInsertId(); err != nil {
		return 0, fmt.Errorf("db: create media %s: %w", media.FileName, err)
	}

	m.MediaID = &media.ID
	m.Media = media
	id, err := db.insertMessage(tx, m)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("db: create media message: %w", err)
	}
	m.ID = id
	return id, nil
}

// GetMessage returns a message that has not been deleted.
func (db *DB) GetMessage(id int64) (*models.Message, error) {
	row := db.conn.QueryRow(messageQuery+" WHERE m.id = ? AND m.is_deleted = 0", id)
	m, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("db: get message %d: %w", id, classify(err))
	}
	return m, nil
}

// ListChatMessages returns live messages of a chat, newest first.
func (db *DB) ListChatMessages(chatID int64, limit, offset int) ([]models.Message, error) {
	rows, err := db.conn.Query(
		messageQuery+" WHERE m.chat_id = ? AND m.is_deleted = 0 ORDER BY m.sent_at DESC, m.id DESC LIMIT ? OFFSET ?",
		chatID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("db: list messages of %d: %w", chatID, err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("db: list messages of %d: %w", chatID, err)
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func (db *DB) UpdateMessageContent(id int64, content string) error {
	result, err := db.conn.Exec(
		"UPDATE messages SET content = ?, edited_at = ? WHERE id = ? AND is_deleted = 0",
		content, db.timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("db: update message %d: %w", id, err)
	}
	if err := affected(result); err != nil {
		return fmt.Errorf("db: update message %d: %w", id, err)
	}
	return nil
}

// DeleteMessage soft-deletes a message.
func (db *DB) DeleteMessage(id int64) error {
	result, err := db.conn.Exec("UPDATE messages SET is_deleted = 1 WHERE id = ? AND is_deleted = 0", id)
	if err != nil {
		return fmt.Errorf("db: delete message %d: %w", id, err)
	}
	if err := affected(result); err != nil {
		return fmt.Errorf("db: delete message %d: %w", id, err)
	}
	return nil
}

func (db *DB) IncrementViewCount(id int64) error {
	if _, err := db.conn.Exec("UPDATE messages SET view_count = view_count + 1 WHERE id = ?", id); err != nil {
		return fmt.Errorf("db: increment views of %d: %w", id, err)
	}
	return nil
}

func (db *DB) GetMedia(id int64) (*models.Media, error) {
	var (
		md         models.Media
		uploadedAt string
	)
	err := db.conn.QueryRow(
		`SELECT id, file_name, file_path, file_size, media_type, transfer_id, uploaded_by, uploaded_at
		FROM media WHERE id = ?`, id,
	).Scan(&md.ID, &md.FileName, &md.FilePath, &md.FileSize, &md.MediaType, &md.TransferID, &md.UploadedBy, &uploadedAt)
	if err != nil {
		return nil, fmt.Errorf("db: get media %d: %w", id, classify(err))
	}
	md.UploadedAt = parseTime(uploadedAt)
	return &md, nil
}

// CountChatMessages counts live messages of a chat.
func (db *DB) CountChatMessages(chatID int64) (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM messages WHERE chat_id = ? AND is_deleted = 0", chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db: count messages of %d: %w", chatID, err)
	}
	return n, nil
}
