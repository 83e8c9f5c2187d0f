package models

import "time"

// Participant roles.
const (
	RoleCreator = "creator"
	RoleAdmin   = "admin"
	RoleMember  = "member"
)

type User struct {
	ID                int64      `json:"id"`
	PhoneNumber       string     `json:"phone_number"`
	Username          string     `json:"username,omitempty"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name,omitempty"`
	Password          string     `json:"password,omitempty"` // only on registration input, never returned
	Bio               string     `json:"bio,omitempty"`
	ProfilePictureURL string     `json:"profile_picture_url,omitempty"`
	IsOnline          bool       `json:"is_online"`
	LastSeenAt        *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type Chat struct {
	ID          int64     `json:"id"`
	ChatType    string    `json:"chat_type"`
	ChatName    string    `json:"chat_name,omitempty"`
	Description string    `json:"chat_description,omitempty"`
	PublicLink  string    `json:"public_link,omitempty"`
	CreatorID   int64     `json:"creator_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ChatParticipant struct {
	ID       int64     `json:"id"`
	ChatID   int64     `json:"chat_id"`
	UserID   int64     `json:"user_id"`
	Username string    `json:"username,omitempty"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// CanManage reports whether the participant may administer the chat.
func (p *ChatParticipant) CanManage() bool {
	return p != nil && (p.Role == RoleCreator || p.Role == RoleAdmin)
}

type Message struct {
	ID          int64      `json:"id"`
	ChatID      int64      `json:"chat_id"`
	SenderID    int64      `json:"sender_id"`
	Content     string     `json:"content"`
	MessageType string     `json:"message_type"`
	MediaID     *int64     `json:"media_id,omitempty"`
	Media       *Media     `json:"media,omitempty"`
	SentAt      time.Time  `json:"sent_at"`
	EditedAt    *time.Time `json:"edited_at,omitempty"`
	IsDeleted   bool       `json:"is_deleted"`
	ViewCount   int        `json:"view_count"`
}

type Media struct {
	ID         int64     `json:"id"`
	FileName   string    `json:"file_name"`
	FilePath   string    `json:"file_path_or_url"`
	FileSize   int64     `json:"file_size"`
	MediaType  string    `json:"media_type"`
	TransferID string    `json:"transfer_id,omitempty"`
	UploadedBy int64     `json:"uploaded_by_user_id"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type Contact struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	ContactUserID int64     `json:"contact_user_id"`
	AliasName     string    `json:"alias_name,omitempty"`
	AddedAt       time.Time `json:"added_at"`
}

type Notification struct {
	ID            int64     `json:"id"`
	RecipientID   int64     `json:"recipient_user_id"`
	Message       string    `json:"message"`
	EventType     string    `json:"event_type"`
	RelatedChatID *int64    `json:"related_chat_id,omitempty"`
	IsRead        bool      `json:"is_read"`
	Timestamp     time.Time `json:"timestamp"`
}
