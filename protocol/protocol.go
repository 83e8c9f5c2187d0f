package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest = errors.New("invalid request format")
	ErrInvalidPayload = errors.New("invalid payload")
)

type Command string

const (
	Register          Command = "REGISTER"
	Login             Command = "LOGIN"
	Logout            Command = "LOGOUT"
	GetUserProfile    Command = "GET_USER_PROFILE"
	UpdateUserProfile Command = "UPDATE_USER_PROFILE"
	DeleteUser        Command = "DELETE_USER"
	GetAllUsers       Command = "GET_ALL_USERS"

	CreateChat     Command = "CREATE_CHAT"
	GetUserChats   Command = "GET_USER_CHATS"
	GetChatDetails Command = "GET_CHAT_DETAILS"
	UpdateChat     Command = "UPDATE_CHAT"
	DeleteChat     Command = "DELETE_CHAT"

	SendMessage       Command = "SEND_MESSAGE"
	SendTextMessage   Command = "SEND_TEXT_MESSAGE"
	SendImage         Command = "SEND_IMAGE"
	SendVideo         Command = "SEND_VIDEO"
	SendVoiceNote     Command = "SEND_VOICE_NOTE"
	SendFile          Command = "SEND_FILE"
	GetChatMessages   Command = "GET_CHAT_MESSAGES"
	UpdateMessage     Command = "UPDATE_MESSAGE"
	DeleteMessage     Command = "DELETE_MESSAGE"
	MarkMessageAsRead Command = "MARK_MESSAGE_AS_READ"
	GetFileByMedia    Command = "GET_FILE_BY_MEDIA"

	AddChatParticipant        Command = "ADD_CHAT_PARTICIPANT"
	GetChatParticipants       Command = "GET_CHAT_PARTICIPANTS"
	UpdateChatParticipantRole Command = "UPDATE_CHAT_PARTICIPANT_ROLE"
	RemoveChatParticipant     Command = "REMOVE_CHAT_PARTICIPANT"

	AddContact       Command = "ADD_CONTACT"
	GetContacts      Command = "GET_CONTACTS"
	RemoveContact    Command = "REMOVE_CONTACT"
	BlockUnblockUser Command = "BLOCK_UNBLOCK_USER"

	MyNotifications        Command = "MY_NOTIFICATIONS"
	MarkNotificationAsRead Command = "MARK_NOTIFICATION_AS_READ"
	DeleteNotification     Command = "DELETE_NOTIFICATION"

	InitiateVideoCall Command = "INITIATE_VIDEO_CALL"
	VideoCallAnswer   Command = "VIDEO_CALL_ANSWER"
	EndVideoCall      Command = "END_VIDEO_CALL"
)

// Distinguished response messages.
const (
	ReadyToReceiveFile = "READY_TO_RECEIVE_FILE"
	ReadyToSendFile    = "READY_TO_SEND_FILE"

	CallInitiated = "VIDEO_CALL_INITIATED"
	CallAccepted  = "CALL_ACCEPTED"
	CallRejected  = "CALL_REJECTED"
	CallEnded     = "CALL_ENDED"
)

// Messages carried by unsolicited pushes.
const (
	EventNewMessage       = "New message received"
	EventMessageUpdated   = "Message updated"
	EventMessageDeleted   = "Message deleted"
	EventChatUpdated      = "Chat updated"
	EventChatDeleted      = "Chat deleted"
	EventParticipantAdded = "Participant added"
	EventRoleUpdated      = "Participant role updated"
	EventParticipantLeft  = "Participant removed"

	EventCallOffer    = "VIDEO_CALL_OFFER"
	EventCallAccepted = "VIDEO_CALL_ACCEPTED"
	EventCallRejected = "VIDEO_CALL_REJECTED"
	EventCallEnded    = "VIDEO_CALL_ENDED"

	EventShutdown = "SERVER_SHUTDOWN"
)

// Request is the client envelope. Payload holds an embedded JSON document,
// normally transported as a JSON string.
type Request struct {
	Command Command         `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the server envelope, used both for replies and for pushes.
type Response struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Payload *string `json:"payload"`
}

// DecodeRequest parses one line of the command channel.
func DecodeRequest(line []byte) (*Request, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return nil, ErrInvalidRequest
	}
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Command == "" {
		return nil, ErrInvalidRequest
	}
	return &req, nil
}

// Decode unmarshals the embedded payload document into v. A missing payload
// decodes as an empty object.
func (r *Request) Decode(v any) error {
	doc, err := unwrap(r.Payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(doc, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func unwrap(raw json.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []byte("{}"), nil
	}
	if raw[0] != '"' {
		return raw, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if s == "" {
		return []byte("{}"), nil
	}
	return []byte(s), nil
}

// NewRequest builds a request whose payload is v embedded as a JSON string.
func NewRequest(cmd Command, v any) (*Request, error) {
	req := &Request{Command: cmd}
	if v == nil {
		return req, nil
	}
	doc, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	req.Payload, err = json.Marshal(string(doc))
	if err != nil {
		return nil, err
	}
	return req, nil
}

// Encode renders a request as one newline-terminated line.
func (r *Request) Encode() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func OK(message string) *Response {
	return &Response{Success: true, Message: message}
}

func Fail(message string) *Response {
	return &Response{Success: false, Message: message}
}

// WithPayload returns a response carrying v as its embedded JSON document.
// A payload that cannot be marshalled is a programming error and panics.
func WithPayload(success bool, message string, v any) *Response {
	doc, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("protocol: marshal payload for %q: %v", message, err))
	}
	s := string(doc)
	return &Response{Success: success, Message: message, Payload: &s}
}

// Encode renders the response as one newline-terminated line.
func (r *Response) Encode() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// DecodeResponse parses one line written by the server.
func DecodeResponse(line []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(bytes.TrimSpace(line), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return &resp, nil
}

// DecodePayload unmarshals the embedded payload document into v.
func (r *Response) DecodePayload(v any) error {
	if r.Payload == nil {
		return fmt.Errorf("%w: empty payload", ErrInvalidPayload)
	}
	if err := json.Unmarshal([]byte(*r.Payload), v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
