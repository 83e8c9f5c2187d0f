package server

import (
	"encoding/json"
	"fmt"
	"runtime/debug"

	"chatd/protocol"
)

// Replies shared by several handlers.
const (
	msgAuthRequired   = "Authentication required. Please log in."
	msgServerError    = "Server error."
	msgInternalError  = "Server internal error."
	msgInvalidPayload = "Invalid request payload."
	msgNotParticipant = "You are not a participant of this chat."
	msgChatNotFound   = "Chat not found."
	msgUserNotFound   = "User not found."
)

// handlerFunc serves one command. A returned error is a collaborator
// failure; business-rule refusals are failed responses with a nil error.
type handlerFunc func(c *Client, req *protocol.Request) (*protocol.Response, error)

type command struct {
	handle handlerFunc
	public bool
}

func (s *Server) routes() map[protocol.Command]command {
	auth := func(h handlerFunc) command { return command{handle: h} }

	return map[protocol.Command]command{
		protocol.Register: {handle: s.handleRegister, public: true},
		protocol.Login:    {handle: s.handleLogin, public: true},
		protocol.Logout:   auth(s.handleLogout),

		protocol.GetUserProfile:    auth(s.handleGetUserProfile),
		protocol.UpdateUserProfile: auth(s.handleUpdateUserProfile),
		protocol.DeleteUser:        auth(s.handleDeleteUser),
		protocol.GetAllUsers:       auth(s.handleGetAllUsers),

		protocol.CreateChat:     auth(s.handleCreateChat),
		protocol.GetUserChats:   auth(s.handleGetUserChats),
		protocol.GetChatDetails: auth(s.handleGetChatDetails),
		protocol.UpdateChat:     auth(s.handleUpdateChat),
		protocol.DeleteChat:     auth(s.handleDeleteChat),

		protocol.AddChatParticipant:        auth(s.handleAddChatParticipant),
		protocol.GetChatParticipants:       auth(s.handleGetChatParticipants),
		protocol.UpdateChatParticipantRole: auth(s.handleUpdateChatParticipantRole),
		protocol.RemoveChatParticipant:     auth(s.handleRemoveChatParticipant),

		protocol.SendMessage:       auth(s.sendMessage("", false)),
		protocol.SendTextMessage:   auth(s.sendMessage("", true)),
		protocol.SendImage:         auth(s.sendMessage("image", false)),
		protocol.SendVideo:         auth(s.sendMessage("video", false)),
		protocol.SendVoiceNote:     auth(s.sendMessage("voice", false)),
		protocol.SendFile:          auth(s.sendMessage("file", false)),
		protocol.GetChatMessages:   auth(s.handleGetChatMessages),
		protocol.UpdateMessage:     auth(s.handleUpdateMessage),
		protocol.DeleteMessage:     auth(s.handleDeleteMessage),
		protocol.MarkMessageAsRead: auth(s.handleMarkMessageAsRead),
		protocol.GetFileByMedia:    auth(s.handleGetFileByMedia),

		protocol.AddContact:       auth(s.handleAddContact),
		protocol.GetContacts:      auth(s.handleGetContacts),
		protocol.RemoveContact:    auth(s.handleRemoveContact),
		protocol.BlockUnblockUser: auth(s.handleBlockUnblockUser),

		protocol.MyNotifications:        auth(s.handleMyNotifications),
		protocol.MarkNotificationAsRead: auth(s.handleMarkNotificationAsRead),
		protocol.DeleteNotification:     auth(s.handleDeleteNotification),

		protocol.InitiateVideoCall: auth(s.handleInitiateVideoCall),
		protocol.VideoCallAnswer:   auth(s.handleVideoCallAnswer),
		protocol.EndVideoCall:      auth(s.handleEndVideoCall),
	}
}

// dispatch routes one request. It always produces a response: collaborator
// errors and panics are logged and turned into generic failures so the
// connection survives.
func (s *Server) dispatch(c *Client, req *protocol.Request) (resp *protocol.Response) {
	cmd, ok := s.commands[req.Command]
	if !c.Authenticated() && !(ok && cmd.public) {
		return protocol.Fail(msgAuthRequired)
	}
	if !ok {
		return protocol.Fail(fmt.Sprintf("Unknown command: %s", req.Command))
	}

	defer func() {
		if r := recover(); r != nil {
			c.log().Error("handler panic", "command", req.Command, "panic", r, "stack", string(debug.Stack()))
			resp = protocol.Fail(msgInternalError)
		}
	}()

	resp, err := cmd.handle(c, req)
	if err != nil {
		c.log().Error("command failed", "command", req.Command, "error", err)
		return protocol.Fail(msgServerError)
	}
	if resp == nil {
		return protocol.Fail(msgInternalError)
	}
	return resp
}

// decode unmarshals the request payload into v. A nil result means success;
// otherwise it is the reply to send.
func decode(req *protocol.Request, v any) *protocol.Response {
	if err := req.Decode(v); err != nil {
		return protocol.Fail(msgInvalidPayload)
	}
	return nil
}

// flexID accepts an id sent either as a JSON number or as a string. null
// and the empty string both mean no id.
type flexID int64

func (f *flexID) UnmarshalJSON(b []byte) error {
	if s := string(b); s == "null" || s == `""` {
		*f = 0
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	v, err := n.Int64()
	if err != nil {
		return err
	}
	*f = flexID(v)
	return nil
}
