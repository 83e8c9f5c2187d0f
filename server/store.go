package server

import (
	"chatd/db"
	"chatd/models"
)

// Store is the persistence collaborator the server depends on. The server
// never issues SQL itself.
type Store interface {
	CreateUser(u *models.User, password string) (int64, error)
	Authenticate(phone, password string) (*models.User, error)
	GetUser(id int64) (*models.User, error)
	UserExists(id int64) (bool, error)
	PhoneRegistered(phone string) (bool, error)
	ListUsers() ([]models.User, error)
	UpdateUser(u *models.User) error
	DeleteUser(id int64) error
	SetUserOnline(id int64, online bool) error

	CreateChat(c *models.Chat) (int64, error)
	GetChat(id int64) (*models.Chat, error)
	ListUserChats(userID int64) ([]models.Chat, error)
	UpdateChat(c *models.Chat) error
	DeleteChat(id int64) error

	IsParticipant(chatID, userID int64) (bool, error)
	GetParticipant(chatID, userID int64) (*models.ChatParticipant, error)
	ListParticipants(chatID int64) ([]models.ChatParticipant, error)
	AddParticipant(p *models.ChatParticipant) (int64, error)
	UpdateParticipantRole(chatID, userID int64, role string) error
	RemoveParticipant(chatID, userID int64) error

	CreateMessage(m *models.Message) (int64, error)
	CreateMediaMessage(m *models.Message, media *models.Media) (int64, error)
	GetMessage(id int64) (*models.Message, error)
	ListChatMessages(chatID int64, limit, offset int) ([]models.Message, error)
	UpdateMessageContent(id int64, content string) error
	DeleteMessage(id int64) error
	IncrementViewCount(id int64) error
	GetMedia(id int64) (*models.Media, error)

	AddContact(c *models.Contact) (int64, error)
	IsContact(userID, contactUserID int64) (bool, error)
	ListContacts(userID int64) ([]models.User, error)
	RemoveContact(userID, contactUserID int64) error
	BlockUser(blockerID, blockedID int64) error
	UnblockUser(blockerID, blockedID int64) error
	IsBlocked(blockerID, blockedID int64) (bool, error)

	CreateNotification(n *models.Notification) (int64, error)
	ListNotifications(userID int64) ([]models.Notification, error)
	GetNotification(id int64) (*models.Notification, error)
	MarkNotificationRead(id int64) error
	DeleteNotification(id int64) error
}

var _ Store = (*db.DB)(nil)
