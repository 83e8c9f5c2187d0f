package server

import (
	"errors"
	"strings"

	"chatd/db"
	"chatd/models"
	"chatd/protocol"
)

var chatTypes = map[string]bool{"private": true, "group": true, "channel": true}

type chatRef struct {
	ChatID flexID `json:"chat_id"`
}

type chatFields struct {
	ChatType    *string `json:"chat_type"`
	ChatName    *string `json:"chat_name"`
	Description *string `json:"chat_description"`
	PublicLink  *string `json:"public_link"`
}

// participant returns the caller's membership in chatID, or nil when the
// caller is not a participant.
func (s *Server) participant(chatID, userID int64) (*models.ChatParticipant, error) {
	p, err := s.store.GetParticipant(chatID, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

// loadChat returns the chat or a failure reply when it does not exist.
func (s *Server) loadChat(chatID int64) (*models.Chat, *protocol.Response, error) {
	chat, err := s.store.GetChat(chatID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, protocol.Fail(msgChatNotFound), nil
	}
	if err != nil {
		return nil, nil, err
	}
	return chat, nil, nil
}

func (s *Server) handleCreateChat(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p chatFields
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	if p.ChatType == nil || !chatTypes[strings.ToLower(*p.ChatType)] {
		return protocol.Fail("Invalid chat type. Use 'private', 'group' or 'channel'."), nil
	}

	chat := &models.Chat{ChatType: strings.ToLower(*p.ChatType), CreatorID: c.UserID()}
	if p.ChatName != nil {
		chat.ChatName = *p.ChatName
	}
	if p.Description != nil {
		chat.Description = *p.Description
	}
	if p.PublicLink != nil {
		chat.PublicLink = *p.PublicLink
	}

	id, err := s.store.CreateChat(chat)
	if err != nil {
		return nil, err
	}
	created, err := s.store.GetChat(id)
	if err != nil {
		return nil, err
	}
	c.log().Info("chat created", "chat_id", id)
	return protocol.WithPayload(true, "Chat created successfully!", created), nil
}

func (s *Server) handleGetUserChats(c *Client, _ *protocol.Request) (*protocol.Response, error) {
	chats, err := s.store.ListUserChats(c.UserID())
	if err != nil {
		return nil, err
	}
	return protocol.WithPayload(true, "User chats retrieved successfully!", nonNil(chats)), nil
}

func (s *Server) handleGetChatDetails(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p chatRef
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	chat, resp, err := s.loadChat(int64(p.ChatID))
	if resp != nil || err != nil {
		return resp, err
	}
	member, err := s.participant(chat.ID, c.UserID())
	if err != nil {
		return nil, err
	}
	if member == nil {
		return protocol.Fail(msgNotParticipant), nil
	}
	return protocol.WithPayload(true, "Chat details retrieved successfully!", chat), nil
}

func (s *Server) handleUpdateChat(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p struct {
		chatRef
		chatFields
	}
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	chat, resp, err := s.loadChat(int64(p.ChatID))
	if resp != nil || err != nil {
		return resp, err
	}
	member, err := s.participant(chat.ID, c.UserID())
	if err != nil {
		return nil, err
	}
	if !member.CanManage() {
		return protocol.Fail("Unauthorized: Only chat creator or admin can update chat."), nil
	}

	if p.ChatType != nil {
		if !chatTypes[strings.ToLower(*p.ChatType)] {
			return protocol.Fail("Invalid chat type. Use 'private', 'group' or 'channel'."), nil
		}
		chat.ChatType = strings.ToLower(*p.ChatType)
	}
	if p.ChatName != nil {
		chat.ChatName = *p.ChatName
	}
	if p.Description != nil {
		chat.Description = *p.Description
	}
	if p.PublicLink != nil {
		chat.PublicLink = *p.PublicLink
	}
	if err := s.store.UpdateChat(chat); err != nil {
		return nil, err
	}
	if updated, err := s.store.GetChat(chat.ID); err == nil {
		chat = updated
	}

	s.fanOut(c.UserID(), chat.ID, protocol.WithPayload(true, protocol.EventChatUpdated, chat))
	return protocol.WithPayload(true, "Chat updated successfully!", chat), nil
}

func (s *Server) handleDeleteChat(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p chatRef
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	chat, resp, err := s.loadChat(int64(p.ChatID))
	if resp != nil || err != nil {
		return resp, err
	}
	if chat.CreatorID != c.UserID() {
		return protocol.Fail("Unauthorized: Only the chat creator can delete the chat."), nil
	}

	// Participants are gone after the delete cascades.
	participants, err := s.store.ListParticipants(chat.ID)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteChat(chat.ID); err != nil {
		return nil, err
	}

	event := protocol.WithPayload(true, protocol.EventChatDeleted, map[string]int64{"chat_id": chat.ID})
	s.notifyParticipants(c.UserID(), participants, event)
	c.log().Info("chat deleted", "chat_id", chat.ID)
	return protocol.OK("Chat deleted successfully!"), nil
}

type participantChange struct {
	chatRef
	UserID  flexID `json:"user_id"`
	Role    string `json:"role"`
	NewRole string `json:"new_role"`
}

func (s *Server) handleAddChatParticipant(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p participantChange
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	chat, resp, err := s.loadChat(int64(p.ChatID))
	if resp != nil || err != nil {
		return resp, err
	}
	member, err := s.participant(chat.ID, c.UserID())
	if err != nil {
		return nil, err
	}
	if !member.CanManage() {
		return protocol.Fail("Unauthorized: Only chat creator or admin can add participants."), nil
	}

	targetID := int64(p.UserID)
	exists, err := s.store.UserExists(targetID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return protocol.Fail("Target user to add not found."), nil
	}

	role := strings.ToLower(p.Role)
	if role == "" {
		role = models.RoleMember
	}
	if role != models.RoleMember && role != models.RoleAdmin {
		return protocol.Fail("Invalid role. Use 'admin' or 'member'."), nil
	}

	added := &models.ChatParticipant{ChatID: chat.ID, UserID: targetID, Role: role}
	if _, err := s.store.AddParticipant(added); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return protocol.Fail("User is already a participant in this chat."), nil
		}
		return nil, err
	}
	if stored, err := s.store.GetParticipant(chat.ID, targetID); err == nil {
		added = stored
	}

	s.fanOut(c.UserID(), chat.ID, protocol.WithPayload(true, protocol.EventParticipantAdded, added))
	return protocol.WithPayload(true, "Participant added successfully!", added), nil
}

func (s *Server) handleGetChatParticipants(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p chatRef
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	chat, resp, err := s.loadChat(int64(p.ChatID))
	if resp != nil || err != nil {
		return resp, err
	}
	member, err := s.participant(chat.ID, c.UserID())
	if err != nil {
		return nil, err
	}
	if member == nil {
		return protocol.Fail(msgNotParticipant), nil
	}

	participants, err := s.store.ListParticipants(chat.ID)
	if err != nil {
		return nil, err
	}
	return protocol.WithPayload(true, "Chat participants retrieved successfully!", nonNil(participants)), nil
}

func (s *Server) handleUpdateChatParticipantRole(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p participantChange
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	chat, resp, err := s.loadChat(int64(p.ChatID))
	if resp != nil || err != nil {
		return resp, err
	}
	actor, err := s.participant(chat.ID, c.UserID())
	if err != nil {
		return nil, err
	}
	if !actor.CanManage() {
		return protocol.Fail("Unauthorized: Only chat creator or admin can change roles."), nil
	}

	targetID := int64(p.UserID)
	newRole := strings.ToLower(p.NewRole)
	if targetID == c.UserID() && actor.Role != models.RoleCreator {
		return protocol.Fail("You cannot change your own role unless you are the creator."), nil
	}
	if targetID == chat.CreatorID && newRole != models.RoleCreator {
		return protocol.Fail("Cannot change the creator's role to something other than 'creator'."), nil
	}
	if targetID != chat.CreatorID && newRole != models.RoleAdmin && newRole != models.RoleMember {
		return protocol.Fail("Invalid role. Use 'admin' or 'member'."), nil
	}

	if err := s.store.UpdateParticipantRole(chat.ID, targetID, newRole); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return protocol.Fail("User is not a participant of this chat."), nil
		}
		return nil, err
	}

	change := map[string]any{"chat_id": chat.ID, "user_id": targetID, "role": newRole}
	s.fanOut(c.UserID(), chat.ID, protocol.WithPayload(true, protocol.EventRoleUpdated, change))
	return protocol.WithPayload(true, "Participant role updated successfully!", change), nil
}

func (s *Server) handleRemoveChatParticipant(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p participantChange
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	chat, resp, err := s.loadChat(int64(p.ChatID))
	if resp != nil || err != nil {
		return resp, err
	}
	actor, err := s.participant(chat.ID, c.UserID())
	if err != nil {
		return nil, err
	}

	targetID := int64(p.UserID)
	if targetID == 0 {
		targetID = c.UserID()
	}
	if targetID != c.UserID() && !actor.CanManage() {
		return protocol.Fail("Unauthorized: Only chat creator or admin can remove other participants."), nil
	}
	if targetID == chat.CreatorID {
		return protocol.Fail("The chat creator cannot be removed from the chat."), nil
	}

	participants, err := s.store.ListParticipants(chat.ID)
	if err != nil {
		return nil, err
	}
	if err := s.store.RemoveParticipant(chat.ID, targetID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return protocol.Fail("User is not a participant of this chat."), nil
		}
		return nil, err
	}

	change := map[string]int64{"chat_id": chat.ID, "user_id": targetID}
	s.notifyParticipants(c.UserID(), participants, protocol.WithPayload(true, protocol.EventParticipantLeft, change))
	return protocol.OK("Participant removed successfully!"), nil
}
