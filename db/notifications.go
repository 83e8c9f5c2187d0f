package db

import (
	"database/sql"
	"fmt"

	"chatd/models"
)

const notificationColumns = `id, recipient_user_id, message, event_type, related_chat_id, is_read, timestamp`

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n       models.Notification
		chatID  sql.NullInt64
		created string
	)
	if err := row.Scan(&n.ID, &n.RecipientID, &n.Message, &n.EventType, &chatID, &n.IsRead, &created); err != nil {
		return nil, err
	}
	n.RelatedChatID = fromNullInt(chatID)
	n.Timestamp = parseTime(created)
	return &n, nil
}

func (db *DB) CreateNotification(n *models.Notification) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO notifications (recipient_user_id, message, event_type, related_chat_id, is_read, timestamp)
		VALUES (?, ?, ?, ?, 0, ?)`,
		n.RecipientID, n.Message, n.EventType, nullInt(n.RelatedChatID), db.timestamp(),
	)
	if err != nil {
		return 0, fmt.Errorf("db: create notification for %d: %w", n.RecipientID, err)
	}
	return result.LastInsertId()
}

// ListNotifications returns a user's notifications, newest first.
func (db *DB) ListNotifications(userID int64) ([]models.Notification, error) {
	rows, err := db.conn.Query(
		"SELECT "+notificationColumns+" FROM notifications WHERE recipient_user_id = ? ORDER BY timestamp DESC, id DESC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("db: list notifications of %d: %w", userID, err)
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("db: list notifications of %d: %w", userID, err)
		}
		notifications = append(notifications, *n)
	}
	return notifications, rows.Err()
}

func (db *DB) GetNotification(id int64) (*models.Notification, error) {
	row := db.conn.QueryRow("SELECT "+notificationColumns+" FROM notifications WHERE id = ?", id)
	n, err := scanNotification(row)
	if err != nil {
		return nil, fmt.Errorf("db: get notification %d: %w", id, classify(err))
	}
	return n, nil
}

func (db *DB) MarkNotificationRead(id int64) error {
	result, err := db.conn.Exec("UPDATE notifications SET is_read = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("db: mark notification %d: %w", id, err)
	}
	if err := affected(result); err != nil {
		return fmt.Errorf("db: mark notification %d: %w", id, err)
	}
	return nil
}

func (db *DB) DeleteNotification(id int64) error {
	result, err := db.conn.Exec("DELETE FROM notifications WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("db: delete notification %d: %w", id, err)
	}
	if err := affected(result); err != nil {
		return fmt.Errorf("db: delete notification %d: %w", id, err)
	}
	return nil
}
