package db

import (
	"path/filepath"
	"testing"
	"time"

	"chatd/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func createUser(t *testing.T, db *DB, phone string) int64 {
	t.Helper()
	id, err := db.CreateUser(&models.User{PhoneNumber: phone, FirstName: "User " + phone, Username: "u" + phone}, "password123")
	require.NoError(t, err)
	return id
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.migrate())
	assert.True(t, db.columnExists("users", "last_seen_at"))
	assert.True(t, db.columnExists("messages", "edited_at"))
	assert.False(t, db.columnExists("users", "no_such_column"))
}

func TestCreateUserAndAuthenticate(t *testing.T) {
	db := setupTestDB(t)
	id := createUser(t, db, "+100")

	u, err := db.Authenticate("+100", "password123")
	require.NoError(t, err)
	assert.Equal(t, id, u.ID)
	assert.Empty(t, u.Password, "hash must not leave the store")

	_, err = db.Authenticate("+100", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = db.Authenticate("+999", "password123")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPasswordIsHashed(t *testing.T) {
	db := setupTestDB(t)
	createUser(t, db, "+100")

	var stored string
	require.NoError(t, db.conn.QueryRow("SELECT password FROM users WHERE phone_number = ?", "+100").Scan(&stored))
	assert.NotEqual(t, "password123", stored)
	assert.Contains(t, stored, "$2a$")
}

func TestCreateUserDuplicatePhone(t *testing.T) {
	db := setupTestDB(t)
	createUser(t, db, "+100")

	_, err := db.CreateUser(&models.User{PhoneNumber: "+100", FirstName: "Again"}, "x")
	assert.ErrorIs(t, err, ErrDuplicate)

	registered, err := db.PhoneRegistered("+100")
	require.NoError(t, err)
	assert.True(t, registered)
}

func TestSetUserOnline(t *testing.T) {
	db := setupTestDB(t)
	id := createUser(t, db, "+100")

	require.NoError(t, db.SetUserOnline(id, true))
	u, err := db.GetUser(id)
	require.NoError(t, err)
	assert.True(t, u.IsOnline)
	require.NotNil(t, u.LastSeenAt)

	require.NoError(t, db.ResetPresence())
	u, err = db.GetUser(id)
	require.NoError(t, err)
	assert.False(t, u.IsOnline)
}

func TestUpdateAndDeleteUser(t *testing.T) {
	db := setupTestDB(t)
	id := createUser(t, db, "+100")

	u, err := db.GetUser(id)
	require.NoError(t, err)
	u.Bio = "hello"
	u.LastName = "Smith"
	require.NoError(t, db.UpdateUser(u))

	u, err = db.GetUser(id)
	require.NoError(t, err)
	assert.Equal(t, "hello", u.Bio)
	assert.Equal(t, "Smith", u.LastName)

	require.NoError(t, db.DeleteUser(id))
	_, err = db.GetUser(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.DeleteUser(id), ErrNotFound)
}

func TestCreateChatEnrollsCreator(t *testing.T) {
	db := setupTestDB(t)
	alice := createUser(t, db, "+1")
	bob := createUser(t, db, "+2")

	chatID, err := db.CreateChat(&models.Chat{ChatType: "group", ChatName: "team", CreatorID: alice})
	require.NoError(t, err)

	p, err := db.GetParticipant(chatID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.RoleCreator, p.Role)
	assert.Equal(t, "u+1", p.Username)

	ok, err := db.IsParticipant(chatID, bob)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = db.AddParticipant(&models.ChatParticipant{ChatID: chatID, UserID: bob, Role: models.RoleMember})
	require.NoError(t, err)
	_, err = db.AddParticipant(&models.ChatParticipant{ChatID: chatID, UserID: bob, Role: models.RoleMember})
	assert.ErrorIs(t, err, ErrDuplicate)

	participants, err := db.ListParticipants(chatID)
	require.NoError(t, err)
	assert.Len(t, participants, 2)

	require.NoError(t, db.UpdateParticipantRole(chatID, bob, models.RoleAdmin))
	p, err = db.GetParticipant(chatID, bob)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, p.Role)

	chats, err := db.ListUserChats(bob)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "team", chats[0].ChatName)

	require.NoError(t, db.RemoveParticipant(chatID, bob))
	assert.ErrorIs(t, db.RemoveParticipant(chatID, bob), ErrNotFound)
}

func TestDeleteChatCascades(t *testing.T) {
	db := setupTestDB(t)
	alice := createUser(t, db, "+1")
	chatID, err := db.CreateChat(&models.Chat{ChatType: "private", CreatorID: alice})
	require.NoError(t, err)
	_, err = db.CreateMessage(&models.Message{ChatID: chatID, SenderID: alice, Content: "hi", MessageType: "text"})
	require.NoError(t, err)

	require.NoError(t, db.DeleteChat(chatID))

	_, err = db.GetChat(chatID)
	assert.ErrorIs(t, err, ErrNotFound)
	participants, err := db.ListParticipants(chatID)
	require.NoError(t, err)
	assert.Empty(t, participants)
	n, err := db.CountChatMessages(chatID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMessagesLifecycle(t *testing.T) {
	db := setupTestDB(t)
	alice := createUser(t, db, "+1")
	chatID, err := db.CreateChat(&models.Chat{ChatType: "group", CreatorID: alice})
	require.NoError(t, err)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, text := range []string{"first", "second", "third"} {
		m := &models.Message{ChatID: chatID, SenderID: alice, Content: text, MessageType: "text", SentAt: base.Add(time.Duration(i) * time.Second)}
		_, err := db.CreateMessage(m)
		require.NoError(t, err)
		assert.NotZero(t, m.ID)
	}

	msgs, err := db.ListChatMessages(chatID, 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "third", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)

	third := msgs[0].ID
	require.NoError(t, db.UpdateMessageContent(third, "third, edited"))
	m, err := db.GetMessage(third)
	require.NoError(t, err)
	assert.Equal(t, "third, edited", m.Content)
	assert.NotNil(t, m.EditedAt)

	require.NoError(t, db.IncrementViewCount(third))
	m, err = db.GetMessage(third)
	require.NoError(t, err)
	assert.Equal(t, 1, m.ViewCount)

	require.NoError(t, db.DeleteMessage(third))
	_, err = db.GetMessage(third)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.DeleteMessage(third), ErrNotFound)

	n, err := db.CountChatMessages(chatID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCreateMediaMessage(t *testing.T) {
	db := setupTestDB(t)
	alice := createUser(t, db, "+1")
	chatID, err := db.CreateChat(&models.Chat{ChatType: "group", CreatorID: alice})
	require.NoError(t, err)

	media := &models.Media{FileName: "cat.png", FilePath: "t1_cat.png", FileSize: 1024, MediaType: "image", TransferID: "t1", UploadedBy: alice}
	msg := &models.Message{ChatID: chatID, SenderID: alice, Content: "look", MessageType: "image"}
	id, err := db.CreateMediaMessage(msg, media)
	require.NoError(t, err)
	assert.NotZero(t, media.ID)

	got, err := db.GetMessage(id)
	require.NoError(t, err)
	require.NotNil(t, got.Media)
	require.NotNil(t, got.MediaID)
	assert.Equal(t, media.ID, *got.MediaID)
	assert.Equal(t, "cat.png", got.Media.FileName)
	assert.Equal(t, int64(1024), got.Media.FileSize)

	md, err := db.GetMedia(media.ID)
	require.NoError(t, err)
	assert.Equal(t, "t1_cat.png", md.FilePath)

	_, err = db.GetMedia(media.ID + 100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateMediaMessageRollsBack(t *testing.T) {
	db := setupTestDB(t)
	alice := createUser(t, db, "+1")

	media := &models.Media{FileName: "x.bin", FilePath: "t_x.bin", FileSize: 1, MediaType: "file", UploadedBy: alice}
	// chat 42 does not exist, so the message insert violates its foreign key
	_, err := db.CreateMediaMessage(&models.Message{ChatID: 42, SenderID: alice, MessageType: "file"}, media)
	require.Error(t, err)

	var count int
	require.NoError(t, db.conn.QueryRow("SELECT COUNT(*) FROM media").Scan(&count))
	assert.Zero(t, count)
}

func TestContactsAndBlocks(t *testing.T) {
	db := setupTestDB(t)
	alice := createUser(t, db, "+1")
	bob := createUser(t, db, "+2")

	_, err := db.AddContact(&models.Contact{UserID: alice, ContactUserID: bob, AliasName: "bobby"})
	require.NoError(t, err)
	_, err = db.AddContact(&models.Contact{UserID: alice, ContactUserID: bob})
	assert.ErrorIs(t, err, ErrDuplicate)

	ok, err := db.IsContact(alice, bob)
	require.NoError(t, err)
	assert.True(t, ok)

	contacts, err := db.ListContacts(alice)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, bob, contacts[0].ID)
	assert.Empty(t, contacts[0].Password)

	require.NoError(t, db.RemoveContact(alice, bob))
	assert.ErrorIs(t, db.RemoveContact(alice, bob), ErrNotFound)

	require.NoError(t, db.BlockUser(alice, bob))
	assert.ErrorIs(t, db.BlockUser(alice, bob), ErrDuplicate)
	blocked, err := db.IsBlocked(alice, bob)
	require.NoError(t, err)
	assert.True(t, blocked)
	blocked, err = db.IsBlocked(bob, alice)
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, db.UnblockUser(alice, bob))
	assert.ErrorIs(t, db.UnblockUser(alice, bob), ErrNotFound)
}

func TestNotifications(t *testing.T) {
	db := setupTestDB(t)
	alice := createUser(t, db, "+1")
	chatID := int64(7)

	id, err := db.CreateNotification(&models.Notification{RecipientID: alice, Message: "hi", EventType: "new_message", RelatedChatID: &chatID})
	require.NoError(t, err)

	list, err := db.ListNotifications(alice)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].IsRead)
	require.NotNil(t, list[0].RelatedChatID)
	assert.Equal(t, chatID, *list[0].RelatedChatID)

	require.NoError(t, db.MarkNotificationRead(id))
	n, err := db.GetNotification(id)
	require.NoError(t, err)
	assert.True(t, n.IsRead)

	require.NoError(t, db.DeleteNotification(id))
	_, err = db.GetNotification(id)
	assert.ErrorIs(t, err, ErrNotFound)
}
