package server

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"chatd/db"
	"chatd/models"
	"chatd/protocol"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type mediaDetails struct {
	FileName  string `json:"file_name"`
	FileSize  int64  `json:"file_size"`
	MediaType string `json:"media_type"`
}

type outgoingMessage struct {
	chatRef
	Content string        `json:"content"`
	Media   *mediaDetails `json:"media"`
}

// sendMessage builds the handler for one send command. A non-empty kind
// forces a media announce of that type; textOnly ignores any media details.
func (s *Server) sendMessage(kind string, textOnly bool) handlerFunc {
	return func(c *Client, req *protocol.Request) (*protocol.Response, error) {
		var p outgoingMessage
		if resp := decode(req, &p); resp != nil {
			return resp, nil
		}
		chatID := int64(p.ChatID)
		member, err := s.participant(chatID, c.UserID())
		if err != nil {
			return nil, err
		}
		if member == nil {
			return protocol.Fail(msgNotParticipant), nil
		}

		if !textOnly && (kind != "" || p.Media != nil) {
			return s.announceUpload(c, chatID, kind, p)
		}

		if strings.TrimSpace(p.Content) == "" {
			return protocol.Fail("Message content cannot be empty."), nil
		}
		msg := &models.Message{
			ChatID:      chatID,
			SenderID:    c.UserID(),
			Content:     p.Content,
			MessageType: "text",
		}
		if _, err := s.store.CreateMessage(msg); err != nil {
			return nil, err
		}
		s.broadcastNewMessage(c.UserID(), msg)
		return protocol.WithPayload(true, "Message sent successfully!", msg), nil
	}
}

func (s *Server) announceUpload(c *Client, chatID int64, kind string, p outgoingMessage) (*protocol.Response, error) {
	if p.Media == nil {
		return protocol.Fail("Missing file details (name, size) for media transfer."), nil
	}
	mediaType := kind
	if mediaType == "" {
		mediaType = strings.ToLower(strings.TrimSpace(p.Media.MediaType))
	}
	if mediaType == "" {
		mediaType = "file"
	}

	id, err := s.transfers.Announce(&Transfer{
		Direction: Upload,
		UserID:    c.UserID(),
		ChatID:    chatID,
		FileName:  p.Media.FileName,
		FileSize:  p.Media.FileSize,
		MediaType: mediaType,
		Caption:   p.Content,
	})
	if errors.Is(err, ErrInvalidTransfer) {
		return protocol.Fail("Missing file details (name, size) for media transfer."), nil
	}
	if err != nil {
		return nil, err
	}
	return protocol.WithPayload(true, protocol.ReadyToReceiveFile, map[string]string{"transfer_id": id}), nil
}

func (s *Server) handleGetChatMessages(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p struct {
		chatRef
		Limit  int `json:"limit"`
		Offset int `json:"offset"`
	}
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	chatID := int64(p.ChatID)
	member, err := s.participant(chatID, c.UserID())
	if err != nil {
		return nil, err
	}
	if member == nil {
		return protocol.Fail(msgNotParticipant), nil
	}

	limit := p.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}

	messages, err := s.store.ListChatMessages(chatID, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		if messages[i].SenderID == c.UserID() {
			continue
		}
		if err := s.store.IncrementViewCount(messages[i].ID); err != nil {
			c.log().Warn("increment view count", "message_id", messages[i].ID, "error", err)
			continue
		}
		messages[i].ViewCount++
	}
	return protocol.WithPayload(true, "Messages retrieved successfully!", nonNil(messages)), nil
}

type messageRef struct {
	MessageID flexID  `json:"message_id"`
	Content   *string `json:"content"`
}

// loadMessage returns the live message or a failure reply.
func (s *Server) loadMessage(id int64) (*models.Message, *protocol.Response, error) {
	msg, err := s.store.GetMessage(id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, protocol.Fail("Message not found."), nil
	}
	if err != nil {
		return nil, nil, err
	}
	return msg, nil, nil
}

func (s *Server) handleUpdateMessage(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p messageRef
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	msg, resp, err := s.loadMessage(int64(p.MessageID))
	if resp != nil || err != nil {
		return resp, err
	}
	if msg.SenderID != c.UserID() {
		return protocol.Fail("Unauthorized: You can only update your own messages."), nil
	}
	if p.Content == nil {
		if msg.MediaID != nil {
			return protocol.Fail("Cannot update media content directly."), nil
		}
		return protocol.Fail("New message content cannot be empty for text message."), nil
	}
	if msg.MediaID == nil && strings.TrimSpace(*p.Content) == "" {
		return protocol.Fail("New message content cannot be empty for text message."), nil
	}

	if err := s.store.UpdateMessageContent(msg.ID, *p.Content); err != nil {
		return nil, err
	}
	if updated, err := s.store.GetMessage(msg.ID); err == nil {
		msg = updated
	}

	s.fanOut(c.UserID(), msg.ChatID, protocol.WithPayload(true, protocol.EventMessageUpdated, msg))
	return protocol.WithPayload(true, "Message updated successfully!", msg), nil
}

func (s *Server) handleDeleteMessage(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p messageRef
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	msg, resp, err := s.loadMessage(int64(p.MessageID))
	if resp != nil || err != nil {
		return resp, err
	}
	if msg.SenderID != c.UserID() {
		actor, err := s.participant(msg.ChatID, c.UserID())
		if err != nil {
			return nil, err
		}
		if !actor.CanManage() {
			return protocol.Fail("Unauthorized: You can only delete your own messages or be a chat admin/creator."), nil
		}
	}

	if err := s.store.DeleteMessage(msg.ID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return protocol.Fail("Message not found."), nil
		}
		return nil, err
	}

	ref := map[string]int64{"message_id": msg.ID, "chat_id": msg.ChatID}
	s.fanOut(c.UserID(), msg.ChatID, protocol.WithPayload(true, protocol.EventMessageDeleted, ref))
	return protocol.OK("Message deleted successfully!"), nil
}

func (s *Server) handleMarkMessageAsRead(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p messageRef
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	msg, resp, err := s.loadMessage(int64(p.MessageID))
	if resp != nil || err != nil {
		return resp, err
	}
	member, err := s.participant(msg.ChatID, c.UserID())
	if err != nil {
		return nil, err
	}
	if member == nil {
		return protocol.Fail(msgNotParticipant), nil
	}
	if msg.SenderID != c.UserID() {
		if err := s.store.IncrementViewCount(msg.ID); err != nil {
			return nil, err
		}
	}
	return protocol.OK("Message marked as read!"), nil
}

func (s *Server) handleGetFileByMedia(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p struct {
		MediaID flexID `json:"mediaId"`
	}
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}

	media, err := s.store.GetMedia(int64(p.MediaID))
	if errors.Is(err, db.ErrNotFound) {
		return protocol.Fail("Media not found."), nil
	}
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.config.UploadDir, filepath.Base(media.FilePath))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		c.log().Warn("media file missing", "media_id", media.ID, "path", path)
		return protocol.Fail("File not found on server."), nil
	}

	id, err := s.transfers.Announce(&Transfer{
		Direction: Download,
		UserID:    c.UserID(),
		FileName:  media.FileName,
		FileSize:  info.Size(),
		MediaType: media.MediaType,
		MediaID:   media.ID,
		Path:      path,
	})
	if err != nil {
		return nil, err
	}
	return protocol.WithPayload(true, protocol.ReadyToSendFile, map[string]any{
		"transfer_id": id,
		"fileSize":    info.Size(),
		"file_name":   media.FileName,
		"media_type":  media.MediaType,
	}), nil
}
