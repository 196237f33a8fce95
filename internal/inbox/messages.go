package inbox

import (
	"fmt"

	kerrors "github.com/liftlog/liftsocial/internal/errors"
	"github.com/liftlog/liftsocial/internal/policy"
	"github.com/liftlog/liftsocial/internal/store"

	"github.com/vmihailenco/msgpack/v5"
)

// Message is one of FollowRequest, FollowGrant, ClubKeyShare or ClubInvite.
type Message interface {
	Kind() store.MessageKind
	isMessage()
}

// FollowRequest asks the owner of a follow secret to grant their personal
// key. It is sent by the follower after obtaining the token out of band.
type FollowRequest struct {
	FromUserID string `msgpack:"from_user_id"`
	Token      string `msgpack:"token"`
}

// FollowGrant carries the owner's personal key wrapped to the follower.
type FollowGrant struct {
	OwnerID    string `msgpack:"owner_id"`
	Token      string `msgpack:"token"`
	WrappedKey []byte `msgpack:"wrapped_key"`
}

// ClubKeyShare carries a club key version wrapped to a member.
type ClubKeyShare struct {
	ClubID     string `msgpack:"club_id"`
	KeyVersion int    `msgpack:"key_version"`
	WrappedKey []byte `msgpack:"wrapped_key"`
	FromUserID string `msgpack:"from_user_id"`
}

// ClubInvite offers membership together with the wrapped club key.
type ClubInvite struct {
	ClubID      string      `msgpack:"club_id"`
	ClubName    string      `msgpack:"club_name"`
	OfferedRole policy.Role `msgpack:"offered_role"`
	WrappedKey  []byte      `msgpack:"wrapped_key"`
	KeyVersion  int         `msgpack:"key_version"`
	FromUserID  string      `msgpack:"from_user_id"`
}

func (FollowRequest) Kind() store.MessageKind { return store.KindFollowRequest }
func (FollowGrant) Kind() store.MessageKind   { return store.KindFollowGrant }
func (ClubKeyShare) Kind() store.MessageKind  { return store.KindClubKeyShare }
func (ClubInvite) Kind() store.MessageKind    { return store.KindClubInvite }

func (FollowRequest) isMessage() {}
func (FollowGrant) isMessage()   {}
func (ClubKeyShare) isMessage()  {}
func (ClubInvite) isMessage()    {}

type wireMessage struct {
	Kind store.MessageKind  `msgpack:"kind"`
	Body msgpack.RawMessage `msgpack:"body"`
}

// EncodeMessage serializes msg with its kind tag.
func EncodeMessage(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", kerrors.ErrMalformedMessage)
	}
	body, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Kind(), err)
	}
	return msgpack.Marshal(wireMessage{Kind: msg.Kind(), Body: body})
}

// DecodeMessage parses a payload produced by EncodeMessage. Unknown kinds
// and undecodable bodies are ErrMalformedMessage.
func DecodeMessage(data []byte) (Message, error) {
	var wire wireMessage
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", kerrors.ErrMalformedMessage, err)
	}

	var (
		msg Message
		err error
	)
	switch wire.Kind {
	case store.KindFollowRequest:
		var m FollowRequest
		err = msgpack.Unmarshal(wire.Body, &m)
		msg = m
	case store.KindFollowGrant:
		var m FollowGrant
		err = msgpack.Unmarshal(wire.Body, &m)
		msg = m
	case store.KindClubKeyShare:
		var m ClubKeyShare
		err = msgpack.Unmarshal(wire.Body, &m)
		msg = m
	case store.KindClubInvite:
		var m ClubInvite
		err = msgpack.Unmarshal(wire.Body, &m)
		msg = m
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", kerrors.ErrMalformedMessage, wire.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s body: %v", kerrors.ErrMalformedMessage, wire.Kind, err)
	}
	return msg, nil
}
