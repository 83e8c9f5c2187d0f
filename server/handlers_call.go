package server

import (
	"errors"

	"chatd/protocol"
)

type callInitiation struct {
	TargetUserID flexID `json:"target_user_id"`
	VideoIP      string `json:"sender_public_video_ip"`
	VideoPort    int    `json:"sender_udp_video_port"`
	AudioIP      string `json:"sender_public_audio_ip"`
	AudioPort    int    `json:"sender_udp_audio_port"`
}

func (p callInitiation) reachability() Reachability {
	return Reachability{
		Video: Endpoint{IP: p.VideoIP, Port: p.VideoPort},
		Audio: Endpoint{IP: p.AudioIP, Port: p.AudioPort},
	}
}

type callAnswer struct {
	CallerID  flexID `json:"caller_id"`
	Accepted  bool   `json:"accepted"`
	VideoIP   string `json:"recipient_public_video_ip"`
	VideoPort int    `json:"recipient_udp_video_port"`
	AudioIP   string `json:"recipient_public_audio_ip"`
	AudioPort int    `json:"recipient_udp_audio_port"`
}

func (p callAnswer) reachability() Reachability {
	return Reachability{
		Video: Endpoint{IP: p.VideoIP, Port: p.VideoPort},
		Audio: Endpoint{IP: p.AudioIP, Port: p.AudioPort},
	}
}

func (s *Server) handleInitiateVideoCall(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p callInitiation
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	reach := p.reachability()
	if p.TargetUserID == 0 || !reach.Valid() {
		return protocol.Fail("Invalid video call initiation request payload."), nil
	}
	callerID, targetID := c.UserID(), int64(p.TargetUserID)
	if callerID == targetID {
		return protocol.Fail("You cannot call yourself."), nil
	}

	target, ok := s.sessions.Lookup(targetID)
	if !ok {
		return protocol.Fail("Recipient offline or not found."), nil
	}
	blocked, err := s.store.IsBlocked(targetID, callerID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return protocol.Fail("You cannot call this user."), nil
	}
	caller, err := s.store.GetUser(callerID)
	if err != nil {
		return nil, err
	}

	if err := s.calls.Offer(callerID, targetID, reach); err != nil {
		if errors.Is(err, ErrUserBusy) {
			return protocol.Fail("User is busy."), nil
		}
		return nil, err
	}

	offer := map[string]any{
		"caller_id":              callerID,
		"caller_username":        displayName(caller.Username, caller.FirstName),
		"caller_public_video_ip": reach.Video.IP,
		"caller_udp_video_port":  reach.Video.Port,
		"caller_public_audio_ip": reach.Audio.IP,
		"caller_udp_audio_port":  reach.Audio.Port,
	}
	if !target.Push(protocol.WithPayload(true, protocol.EventCallOffer, offer)) {
		s.calls.End(callerID, targetID)
		return protocol.Fail("Recipient offline or not found."), nil
	}

	c.log().Info("call offered", "target_user_id", targetID)
	return protocol.OK(protocol.CallInitiated), nil
}

func (s *Server) handleVideoCallAnswer(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p callAnswer
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	reach := p.reachability()
	if p.CallerID == 0 || !reach.Valid() {
		return protocol.Fail("Invalid video call answer payload."), nil
	}
	calleeID, callerID := c.UserID(), int64(p.CallerID)

	if !p.Accepted {
		if err := s.calls.Reject(calleeID, callerID); err != nil {
			return protocol.Fail("No pending call from this user."), nil
		}
		if caller, ok := s.sessions.Lookup(callerID); ok {
			caller.Push(protocol.WithPayload(false, protocol.EventCallRejected, map[string]any{
				"callee_id":       calleeID,
				"callee_username": s.username(calleeID),
			}))
		}
		c.log().Info("call rejected", "caller_id", callerID)
		return protocol.OK(protocol.CallRejected), nil
	}

	if err := s.calls.Accept(calleeID, callerID, reach); err != nil {
		return protocol.Fail("No pending call from this user."), nil
	}
	caller, ok := s.sessions.Lookup(callerID)
	if !ok {
		s.calls.End(calleeID, callerID)
		return protocol.Fail("Caller offline or not found."), nil
	}

	accepted := map[string]any{
		"callee_id":              calleeID,
		"callee_username":        s.username(calleeID),
		"callee_public_video_ip": reach.Video.IP,
		"callee_udp_video_port":  reach.Video.Port,
		"callee_public_audio_ip": reach.Audio.IP,
		"callee_udp_audio_port":  reach.Audio.Port,
	}
	if !caller.Push(protocol.WithPayload(true, protocol.EventCallAccepted, accepted)) {
		s.calls.End(calleeID, callerID)
		return protocol.Fail("Caller offline or not found."), nil
	}

	c.log().Info("call accepted", "caller_id", callerID)
	return protocol.OK(protocol.CallAccepted), nil
}

func (s *Server) handleEndVideoCall(c *Client, req *protocol.Request) (*protocol.Response, error) {
	var p struct {
		TargetUserID flexID `json:"target_user_id"`
	}
	if resp := decode(req, &p); resp != nil {
		return resp, nil
	}
	userID, peerID := c.UserID(), int64(p.TargetUserID)
	if s.calls.End(userID, peerID) {
		s.pushCallEnded(userID, peerID, "ended")
		c.log().Info("call ended", "peer_id", peerID)
	}
	return protocol.OK(protocol.CallEnded), nil
}

// dropCall ends whatever call userID is in and tells the peer.
func (s *Server) dropCall(userID int64, reason string) {
	if peerID, ok := s.calls.Drop(userID); ok {
		s.pushCallEnded(userID, peerID, reason)
		s.logger.Info("call dropped", "user_id", userID, "peer_id", peerID, "reason", reason)
	}
}

func (s *Server) pushCallEnded(enderID, peerID int64, reason string) {
	peer, ok := s.sessions.Lookup(peerID)
	if !ok {
		return
	}
	peer.Push(protocol.WithPayload(true, protocol.EventCallEnded, map[string]any{
		"ender_id": enderID,
		"reason":   reason,
	}))
}

func (s *Server) username(userID int64) string {
	u, err := s.store.GetUser(userID)
	if err != nil {
		return ""
	}
	return displayName(u.Username, u.FirstName)
}

func displayName(username, firstName string) string {
	if username != "" {
		return username
	}
	return firstName
}
