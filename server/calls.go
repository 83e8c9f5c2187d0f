package server

import (
	"errors"
	"net"
	"strconv"
	"sync"
)

var (
	ErrCallNotFound = errors.New("no such call")
	ErrUserBusy     = errors.New("user is busy")
	ErrSelfCall     = errors.New("cannot call yourself")
)

type CallState int

const (
	CallOffered CallState = iota + 1
	CallAccepted
)

func (s CallState) String() string {
	switch s {
	case CallOffered:
		return "offered"
	case CallAccepted:
		return "accepted"
	}
	return "idle"
}

// Endpoint is a public ip:port a participant announced for media.
type Endpoint struct {
	IP   string
	Port int
}

func (e Endpoint) Valid() bool {
	return e.IP != "" && e.Port > 0 && e.Port <= 65535
}

// UDPAddr resolves the endpoint without DNS. Hostnames are not accepted.
func (e Endpoint) UDPAddr() (*net.UDPAddr, bool) {
	ip := net.ParseIP(e.IP)
	if ip == nil || !e.Valid() {
		return nil, false
	}
	return &net.UDPAddr{IP: ip, Port: e.Port}, true
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

type Reachability struct {
	Video Endpoint
	Audio Endpoint
}

func (r Reachability) Valid() bool {
	return r.Video.Valid() && r.Audio.Valid()
}

// callLeg is one side of a pairing. Both legs of a call are always added
// and removed together.
type callLeg struct {
	peer   int64
	state  CallState
	caller bool
	reach  Reachability
}

// Calls holds the symmetric pairing of users in a call together with the
// reachability each side announced. A user is in at most one call.
type Calls struct {
	mu   sync.Mutex
	legs map[int64]*callLeg
}

func NewCalls() *Calls {
	return &Calls{legs: make(map[int64]*callLeg)}
}

// Offer records a pending call from caller to callee. Re-offering to the
// same callee replaces a pending offer; an accepted call is never replaced.
func (c *Calls) Offer(caller, callee int64, reach Reachability) error {
	if caller == callee {
		return ErrSelfCall
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if leg, ok := c.legs[caller]; ok && (leg.peer != callee || leg.state == CallAccepted) {
		return ErrUserBusy
	}
	if leg, ok := c.legs[callee]; ok && (leg.peer != caller || leg.state == CallAccepted) {
		return ErrUserBusy
	}
	c.legs[caller] = &callLeg{peer: callee, state: CallOffered, caller: true, reach: reach}
	c.legs[callee] = &callLeg{peer: caller, state: CallOffered}
	return nil
}

// pendingFor returns the callee's leg when caller has an open offer to it.
func (c *Calls) pendingFor(callee, caller int64) (*callLeg, bool) {
	leg, ok := c.legs[callee]
	if !ok || leg.peer != caller || leg.caller || leg.state != CallOffered {
		return nil, false
	}
	return leg, true
}

// Accept moves an offered call to accepted and stores the callee's
// reachability.
func (c *Calls) Accept(callee, caller int64, reach Reachability) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	leg, ok := c.pendingFor(callee, caller)
	if !ok {
		return ErrCallNotFound
	}
	leg.state = CallAccepted
	leg.reach = reach
	c.legs[caller].state = CallAccepted
	return nil
}

// Reject removes an offered call.
func (c *Calls) Reject(callee, caller int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pendingFor(callee, caller); !ok {
		return ErrCallNotFound
	}
	delete(c.legs, callee)
	delete(c.legs, caller)
	return nil
}

// End removes the pairing between user and peer if it exists. Ending a call
// that is not active is a no-op.
func (c *Calls) End(user, peer int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	leg, ok := c.legs[user]
	if !ok || leg.peer != peer {
		return false
	}
	delete(c.legs, user)
	if other, ok := c.legs[peer]; ok && other.peer == user {
		delete(c.legs, peer)
	}
	return true
}

// Drop removes whatever call user is in and returns the former peer.
func (c *Calls) Drop(user int64) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	leg, ok := c.legs[user]
	if !ok {
		return 0, false
	}
	delete(c.legs, user)
	if other, ok := c.legs[leg.peer]; ok && other.peer == user {
		delete(c.legs, leg.peer)
	}
	return leg.peer, true
}

func (c *Calls) Peer(user int64) (int64, CallState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	leg, ok := c.legs[user]
	if !ok {
		return 0, 0, false
	}
	return leg.peer, leg.state, true
}

// MediaTarget returns where relayed media for user is sent: its announced
// video endpoint, available only once the call is accepted.
func (c *Calls) MediaTarget(user int64) (*net.UDPAddr, bool) {
	c.mu.Lock()
	leg, ok := c.legs[user]
	active := ok && leg.state == CallAccepted
	var video Endpoint
	if active {
		video = leg.reach.Video
	}
	c.mu.Unlock()

	if !active {
		return nil, false
	}
	return video.UDPAddr()
}

// Len returns the number of calls, offered or accepted.
func (c *Calls) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.legs) / 2
}
