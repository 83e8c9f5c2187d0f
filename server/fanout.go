package server

import (
	"chatd/models"
	"chatd/protocol"
)

const eventTypeNewMessage = "new_message"

// notifyParticipants pushes resp to every live participant except the actor
// and returns the participants that were not reachable.
func (s *Server) notifyParticipants(actorID int64, participants []models.ChatParticipant, resp *protocol.Response) []int64 {
	var offline []int64
	for _, p := range participants {
		if p.UserID == actorID {
			continue
		}
		target, ok := s.sessions.Lookup(p.UserID)
		if !ok {
			offline = append(offline, p.UserID)
			continue
		}
		target.Push(resp)
	}
	return offline
}

// fanOut delivers resp to the chat's participants other than the actor.
// Delivery is best effort; a lookup failure is only logged.
func (s *Server) fanOut(actorID, chatID int64, resp *protocol.Response) []int64 {
	participants, err := s.store.ListParticipants(chatID)
	if err != nil {
		s.logger.Error("list participants for fan-out", "chat_id", chatID, "error", err)
		return nil
	}
	return s.notifyParticipants(actorID, participants, resp)
}

// broadcastNewMessage announces a freshly persisted message and leaves a
// notification for participants who were offline.
func (s *Server) broadcastNewMessage(actorID int64, msg *models.Message) {
	offline := s.fanOut(actorID, msg.ChatID, protocol.WithPayload(true, protocol.EventNewMessage, msg))
	if len(offline) == 0 {
		return
	}

	text := "New message"
	if chat, err := s.store.GetChat(msg.ChatID); err == nil && chat.ChatName != "" {
		text = "New message in " + chat.ChatName
	}
	chatID := msg.ChatID
	for _, userID := range offline {
		n := &models.Notification{
			RecipientID:   userID,
			Message:       text,
			EventType:     eventTypeNewMessage,
			RelatedChatID: &chatID,
		}
		if _, err := s.store.CreateNotification(n); err != nil {
			s.logger.Error("store offline notification", "user_id", userID, "chat_id", chatID, "error", err)
		}
	}
}
