package room

import (
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"
)

// DefaultTokenTTL is the lifetime of tokens minted by NewToken.
const DefaultTokenTTL = 6 * time.Hour

// NewToken mints a room-join token for identity.
func NewToken(apiKey, apiSecret, room, identity string, validFor time.Duration) (string, error) {
	if apiKey == "" || apiSecret == "" {
		return "", fmt.Errorf("api key and secret are required")
	}
	if room == "" || identity == "" {
		return "", fmt.Errorf("room and identity are required")
	}
	if validFor <= 0 {
		validFor = DefaultTokenTTL
	}

	at := auth.NewAccessToken(apiKey, apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     room,
	}
	at.AddGrant(grant).
		SetIdentity(identity).
		SetValidFor(validFor)

	return at.ToJWT()
}
