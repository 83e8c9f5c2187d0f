package server

import (
	"errors"
	"strings"

	"chatd/db"
	"chatd/models"
	"chatd/protocol"
)

type contactRef struct {
	ContactUserID flexID `json:"contact_user_id"`
	AliasName     string `json:"alias_name"`
}

func (s *Server) handleAddContact(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p contactRef
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	contactID := int64(p.ContactUserID)
	if contactID == c.UserID() {
		return protocol.Fail("Cannot add yourself as a contact."), nil
	}
	exists, err := s.store.UserExists(contactID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return protocol.Fail("Contact user not found."), nil
	}

	contact := &models.Contact{UserID: c.UserID(), ContactUserID: contactID, AliasName: p.AliasName}
	id, err := s.store.AddContact(contact)
	if errors.Is(err, db.ErrDuplicate) {
		return protocol.Fail("User is already in your contacts."), nil
	}
	if err != nil {
		return nil, err
	}
	contact.ID = id
	return protocol.WithPayload(true, "Contact added successfully!", contact), nil
}

func (s *Server) handleGetContacts(c *Client, _ *protocol.Request) (*protocol.Response, error) {
	contacts, err := s.store.ListContacts(c.UserID())
	if err != nil {
		return nil, err
	}
	return protocol.WithPayload(true, "Contacts retrieved successfully!", nonNil(contacts)), nil
}

func (s *Server) handleRemoveContact(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p contactRef
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	err := s.store.RemoveContact(c.UserID(), int64(p.ContactUserID))
	if errors.Is(err, db.ErrNotFound) {
		return protocol.Fail("Failed to remove contact. It might not exist."), nil
	}
	if err != nil {
		return nil, err
	}
	return protocol.OK("Contact removed successfully!"), nil
}

func (s *Server) handleBlockUnblockUser(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p struct {
		TargetUserID flexID `json:"target_user_id"`
		Action       string `json:"action"`
	}
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	targetID := int64(p.TargetUserID)
	if targetID == c.UserID() {
		return protocol.Fail("Cannot block/unblock yourself."), nil
	}
	exists, err := s.store.UserExists(targetID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return protocol.Fail("Target user not found."), nil
	}

	switch strings.ToLower(p.Action) {
	case "block":
		err := s.store.BlockUser(c.UserID(), targetID)
		if errors.Is(err, db.ErrDuplicate) {
			return protocol.Fail("Failed to block user. User might already be blocked."), nil
		}
		if err != nil {
			return nil, err
		}
		// A call in progress with the blocked user ends now.
		if s.calls.End(c.UserID(), targetID) {
			s.pushCallEnded(c.UserID(), targetID, "blocked")
		}
		return protocol.OK("User blocked successfully!"), nil
	case "unblock":
		err := s.store.UnblockUser(c.UserID(), targetID)
		if errors.Is(err, db.ErrNotFound) {
			return protocol.Fail("Failed to unblock user. User might not be blocked."), nil
		}
		if err != nil {
			return nil, err
		}
		return protocol.OK("User unblocked successfully!"), nil
	default:
		return protocol.Fail("Invalid action. Use 'block' or 'unblock'."), nil
	}
}

type notificationRef struct {
	NotificationID flexID `json:"notification_id"`
}

// ownNotification loads a notification that belongs to the caller.
func (s *Server) ownNotification(c *Client, id int64) (*models.Notification, *protocol.Response, error) {
	n, err := s.store.GetNotification(id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, protocol.Fail("Notification not found or unauthorized."), nil
	}
	if err != nil {
		return nil, nil, err
	}
	if n.RecipientID != c.UserID() {
		return nil, protocol.Fail("Notification not found or unauthorized."), nil
	}
	return n, nil, nil
}

func (s *Server) handleMyNotifications(c *Client, _ *protocol.Request) (*protocol.Response, error) {
	notifications, err := s.store.ListNotifications(c.UserID())
	if err != nil {
		return nil, err
	}
	return protocol.WithPayload(true, "Notifications retrieved successfully!", nonNil(notifications)), nil
}

func (s *Server) handleMarkNotificationAsRead(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p notificationRef
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	n, resp, err := s.ownNotification(c, int64(p.NotificationID))
	if resp != nil || err != nil {
		return resp, err
	}
	if err := s.store.MarkNotificationRead(n.ID); err != nil {
		return nil, err
	}
	return protocol.OK("Notification marked as read."), nil
}

func (s *Server) handleDeleteNotification(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p notificationRef
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	n, resp, err := s.ownNotification(c, int64(p.NotificationID))
	if resp != nil || err != nil {
		return resp, err
	}
	if err := s.store.DeleteNotification(n.ID); err != nil {
		return nil, err
	}
	return protocol.OK("Notification deleted successfully."), nil
}
