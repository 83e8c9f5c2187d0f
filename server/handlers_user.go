package server

import (
	"errors"
	"strings"

	"chatd/db"
	"chatd/models"
	"chatd/protocol"
)

type credentials struct {
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

type registration struct {
	credentials
	Username          string `json:"username"`
	FirstName         string `json:"first_name"`
	LastName          string `json:"last_name"`
	Bio               string `json:"bio"`
	ProfilePictureURL string `json:"profile_picture_url"`
}

func (s *Server) handleRegister(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p registration
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	p.PhoneNumber = strings.TrimSpace(p.PhoneNumber)
	if p.PhoneNumber == "" || p.Password == "" || strings.TrimSpace(p.FirstName) == "" {
		return protocol.Fail("Missing required registration fields."), nil
	}

	taken, err := s.store.PhoneRegistered(p.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if taken {
		return protocol.Fail("Phone number already registered."), nil
	}

	u := &models.User{
		PhoneNumber:       p.PhoneNumber,
		Username:          p.Username,
		FirstName:         strings.TrimSpace(p.FirstName),
		LastName:          p.LastName,
		Bio:               p.Bio,
		ProfilePictureURL: p.ProfilePictureURL,
	}
	id, err := s.store.CreateUser(u, p.Password)
	if errors.Is(err, db.ErrDuplicate) {
		return protocol.Fail("Phone number already registered."), nil
	}
	if err != nil {
		return nil, err
	}

	created, err := s.store.GetUser(id)
	if err != nil {
		return nil, err
	}
	c.log().Info("user registered", "user_id", id)
	return protocol.WithPayload(true, "Registration successful!", created), nil
}

func (s *Server) handleLogin(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p credentials
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	if strings.TrimSpace(p.PhoneNumber) == "" || p.Password == "" {
		return protocol.Fail("Phone number and password are required."), nil
	}

	u, err := s.store.Authenticate(strings.TrimSpace(p.PhoneNumber), p.Password)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return protocol.Fail(msgUserNotFound), nil
	case errors.Is(err, db.ErrInvalidCredentials):
		c.log().Warn("login rejected", "phone", p.PhoneNumber)
		return protocol.Fail("Invalid credentials."), nil
	case err != nil:
		return nil, err
	}

	if prev := c.UserID(); prev != 0 && prev != u.ID {
		c.clearUser()
		s.releaseUser(c, prev)
	}
	if err := s.store.SetUserOnline(u.ID, true); err != nil {
		return nil, err
	}
	c.setUser(u.ID)
	if replaced := s.sessions.Bind(u.ID, c); replaced != nil {
		// The older connection stays open but no longer acts as u.
		replaced.log().Info("session superseded by a newer login")
		replaced.detachUser(u.ID)
	}
	u.IsOnline = true

	c.log().Info("user logged in")
	return protocol.WithPayload(true, "Login successful!", u), nil
}

func (s *Server) handleLogout(c *Client, _ *protocol.Request) (*protocol.Response, error) {
	if userID := c.clearUser(); userID != 0 {
		s.releaseUser(c, userID)
		c.log().Info("user logged out", "user_id", userID)
	}
	return protocol.OK("Logged out successfully."), nil
}

type userRef struct {
	UserID flexID `json:"userId"`
}

func (s *Server) handleGetUserProfile(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p userRef
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	userID := int64(p.UserID)
	if userID == 0 {
		userID = c.UserID()
	}

	u, err := s.store.GetUser(userID)
	if errors.Is(err, db.ErrNotFound) {
		return protocol.Fail(msgUserNotFound), nil
	}
	if err != nil {
		return nil, err
	}
	return protocol.WithPayload(true, "User profile retrieved successfully!", u), nil
}

type profileUpdate struct {
	userRef
	FirstName         *string `json:"first_name"`
	LastName          *string `json:"last_name"`
	Bio               *string `json:"bio"`
	ProfilePictureURL *string `json:"profile_picture_url"`
}

func (s *Server) handleUpdateUserProfile(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p profileUpdate
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	if p.UserID != 0 && int64(p.UserID) != c.UserID() {
		return protocol.Fail("Unauthorized: You can only update your own profile."), nil
	}

	u, err := s.store.GetUser(c.UserID())
	if errors.Is(err, db.ErrNotFound) {
		return protocol.Fail(msgUserNotFound), nil
	}
	if err != nil {
		return nil, err
	}

	if p.FirstName != nil {
		if strings.TrimSpace(*p.FirstName) == "" {
			return protocol.Fail("First name cannot be empty."), nil
		}
		u.FirstName = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Bio != nil {
		u.Bio = *p.Bio
	}
	if p.ProfilePictureURL != nil {
		u.ProfilePictureURL = *p.ProfilePictureURL
	}

	if err := s.store.UpdateUser(u); err != nil {
		return nil, err
	}
	return protocol.WithPayload(true, "User profile updated successfully!", u), nil
}

func (s *Server) handleDeleteUser(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p userRef
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	userID := c.UserID()
	if p.UserID != 0 && int64(p.UserID) != userID {
		return protocol.Fail("Unauthorized: You can only delete your own account."), nil
	}

	s.dropCall(userID, "account deleted")
	if err := s.store.DeleteUser(userID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return protocol.Fail(msgUserNotFound), nil
		}
		return nil, err
	}
	c.clearUser()
	s.sessions.Unbind(userID, c)

	c.log().Info("user deleted", "user_id", userID)
	return protocol.OK("User account deleted successfully."), nil
}

func (s *Server) handleGetAllUsers(_ *Client, _ *protocol.Request) (*protocol.Response, error) {
	users, err := s.store.ListUsers()
	if err != nil {
		return nil, err
	}
	return protocol.WithPayload(true, "Users retrieved successfully!", nonNil(users)), nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
