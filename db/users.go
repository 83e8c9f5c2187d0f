package db

import (
	"database/sql"
	"errors"
	"fmt"

	"chatd/models"

	"golang.org/x/crypto/bcrypt"
)

const userColumns = `id, phone_number, username, first_name, last_name, password, bio,
	profile_picture_url, is_online, last_seen_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u         models.User
		lastSeen  sql.NullString
		createdAt string
	)
	err := row.Scan(&u.ID, &u.PhoneNumber, &u.Username, &u.FirstName, &u.LastName, &u.Password,
		&u.Bio, &u.ProfilePictureURL, &u.IsOnline, &lastSeen, &createdAt)
	if err != nil {
		return nil, err
	}
	u.LastSeenAt = parseNullTime(lastSeen)
	u.CreatedAt = parseTime(createdAt)
	return &u, nil
}

// CreateUser stores u with a bcrypt hash of password and returns the new id.
func (db *DB) CreateUser(u *models.User, password string) (int64, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("db: hash password: %w", err)
	}

	now := db.timestamp()
	result, err := db.conn.Exec(
		`INSERT INTO users (phone_number, username, first_name, last_name, password, bio,
			profile_picture_url, is_online, last_seen_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		u.PhoneNumber, u.Username, u.FirstName, u.LastName, string(hashed), u.Bio,
		u.ProfilePictureURL, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("db: create user %s: %w", u.PhoneNumber, classify(err))
	}
	return result.LastInsertId()
}

// Authenticate returns the user owning phone if password matches its hash.
func (db *DB) Authenticate(phone, password string) (*models.User, error) {
	row := db.conn.QueryRow("SELECT "+userColumns+" FROM users WHERE phone_number = ?", phone)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("db: authenticate %s: %w", phone, classify(err))
	}

	err = bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("db: authenticate %s: %w", phone, err)
	}
	u.Password = ""
	return u, nil
}

func (db *DB) GetUser(id int64) (*models.User, error) {
	row := db.conn.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("db: get user %d: %w", id, classify(err))
	}
	u.Password = ""
	return u, nil
}

func (db *DB) UserExists(id int64) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("db: user exists %d: %w", id, err)
	}
	return count > 0, nil
}

func (db *DB) PhoneRegistered(phone string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users WHERE phone_number = ?", phone).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("db: phone registered: %w", err)
	}
	return count > 0, nil
}

func (db *DB) ListUsers() ([]models.User, error) {
	rows, err := db.conn.Query("SELECT " + userColumns + " FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("db: list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("db: list users: %w", err)
		}
		u.Password = ""
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateUser writes the editable profile fields of u.
func (db *DB) UpdateUser(u *models.User) error {
	result, err := db.conn.Exec(
		`UPDATE users SET first_name = ?, last_name = ?, bio = ?, profile_picture_url = ?
		WHERE id = ?`,
		u.FirstName, u.LastName, u.Bio, u.ProfilePictureURL, u.ID,
	)
	if err != nil {
		return fmt.Errorf("db: update user %d: %w", u.ID, err)
	}
	if err := affected(result); err != nil {
		return fmt.Errorf("db: update user %d: %w", u.ID, err)
	}
	return nil
}

func (db *DB) DeleteUser(id int64) error {
	result, err := db.conn.Exec("DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("db: delete user %d: %w", id, err)
	}
	if err := affected(result); err != nil {
		return fmt.Errorf("db: delete user %d: %w", id, err)
	}
	return nil
}

// SetUserOnline records the presence flag and bumps last_seen_at.
func (db *DB) SetUserOnline(id int64, online bool) error {
	_, err := db.conn.Exec(
		"UPDATE users SET is_online = ?, last_seen_at = ? WHERE id = ?",
		online, db.timestamp(), id,
	)
	if err != nil {
		return fmt.Errorf("db: set online %d: %w", id, err)
	}
	return nil
}

// ResetPresence marks every user offline. Used at startup, when no
// connection can be live.
func (db *DB) ResetPresence() error {
	if _, err := db.conn.Exec("UPDATE users SET is_online = 0 WHERE is_online = 1"); err != nil {
		return fmt.Errorf("db: reset presence: %w", err)
	}
	return nil
}
