package db

import (
	"fmt"

	"chatd/models"
)

func (db *DB) AddContact(c *models.Contact) (int64, error) {
	result, err := db.conn.Exec(
		"INSERT INTO contacts (user_id, contact_user_id, alias_name, added_at) VALUES (?, ?, ?, ?)",
		c.UserID, c.ContactUserID, c.AliasName, db.timestamp(),
	)
	if err != nil {
		return 0, fmt.Errorf("db: add contact %d/%d: %w", c.UserID, c.ContactUserID, classify(err))
	}
	return result.LastInsertId()
}

func (db *DB) IsContact(userID, contactUserID int64) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM contacts WHERE user_id = ? AND contact_user_id = ?",
		userID, contactUserID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("db: is contact %d/%d: %w", userID, contactUserID, err)
	}
	return count > 0, nil
}

// ListContacts returns the users in userID's contact list.
func (db *DB) ListContacts(userID int64) ([]models.User, error) {
	rows, err := db.conn.Query(
		`SELECT u.id, u.phone_number, u.username, u.first_name, u.last_name, u.password, u.bio,
			u.profile_picture_url, u.is_online, u.last_seen_at, u.created_at
		FROM contacts c JOIN users u ON u.id = c.contact_user_id
		WHERE c.user_id = ?
		ORDER BY c.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("db: list contacts of %d: %w", userID, err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("db: list contacts of %d: %w", userID, err)
		}
		u.Password = ""
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (db *DB) RemoveContact(userID, contactUserID int64) error {
	result, err := db.conn.Exec(
		"DELETE FROM contacts WHERE user_id = ? AND contact_user_id = ?",
		userID, contactUserID,
	)
	if err != nil {
		return fmt.Errorf("db: remove contact %d/%d: %w", userID, contactUserID, err)
	}
	if err := affected(result); err != nil {
		return fmt.Errorf("db: remove contact %d/%d: %w", userID, contactUserID, err)
	}
	return nil
}

func (db *DB) BlockUser(blockerID, blockedID int64) error {
	_, err := db.conn.Exec(
		"INSERT INTO blocked_users (blocker_id, blocked_id, blocked_at) VALUES (?, ?, ?)",
		blockerID, blockedID, db.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("db: block %d/%d: %w", blockerID, blockedID, classify(err))
	}
	return nil
}

func (db *DB) UnblockUser(blockerID, blockedID int64) error {
	result, err := db.conn.Exec(
		"DELETE FROM blocked_users WHERE blocker_id = ? AND blocked_id = ?",
		blockerID, blockedID,
	)
	if err != nil {
		return fmt.Errorf("db: unblock %d/%d: %w", blockerID, blockedID, err)
	}
	if err := affected(result); err != nil {
		return fmt.Errorf("db: unblock %d/%d: %w", blockerID, blockedID, err)
	}
	return nil
}

// IsBlocked reports whether blockerID has blocked blockedID.
func (db *DB) IsBlocked(blockerID, blockedID int64) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM blocked_users WHERE blocker_id = ? AND blocked_id = ?",
		blockerID, blockedID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("db: is blocked %d/%d: %w", blockerID, blockedID, err)
	}
	return count > 0, nil
}
