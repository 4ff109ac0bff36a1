// Package pairing implements the out-of-band pairing handshake the
// orchestrator's discovery-tick gate consumes: a signed, expiring invite
// rendered as a QR code, plus the pending-approval bookkeeping behind the
// PairingManager interface. Invites are signed with the replica's own
// ed25519 identity, so the package has no dependency on the transport.
package pairing

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/amaydixit11/syncd/internal/ids"
)

// InvitePrefix is the URL scheme an encoded invite carries.
const InvitePrefix = "syncd://"

// DefaultInviteExpiry is how long an invite remains redeemable.
const DefaultInviteExpiry = 24 * time.Hour

// Invite contains everything a remote peer needs to discover and trust this
// replica well enough to begin the transport-level handshake.
type Invite struct {
	PeerID     string `json:"p"`
	DeviceName string `json:"n"`
	Address    string `json:"a"`
	PublicKey  []byte `json:"k"`
	CreatedAt  int64  `json:"c"`
	ExpiresAt  int64  `json:"e"`
	Signature  []byte `json:"s"`
}

// CreateInvite signs an invite for localPeer using signingKey, valid for
// expiry. address is the single best-effort reachable address to embed (the
// transport supplies it; kept to one to keep the QR code small).
func CreateInvite(localPeer ids.PeerId, deviceName, address string, signingKey ed25519.PrivateKey, expiry time.Duration) (*Invite, error) {
	now := time.Now()
	invite := &Invite{
		PeerID:     localPeer.String(),
		DeviceName: deviceName,
		Address:    address,
		PublicKey:  signingKey.Public().(ed25519.PublicKey),
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(expiry).Unix(),
	}
	invite.Signature = ed25519.Sign(signingKey, invite.signableData())
	return invite, nil
}

func (i *Invite) signableData() []byte {
	data := fmt.Sprintf("%s|%s|%s|%d|%d", i.PeerID, i.DeviceName, i.Address, i.CreatedAt, i.ExpiresAt)
	return []byte(data)
}

// Encode serializes the invite to a compact, prefixed, base64 string.
func (i *Invite) Encode() (string, error) {
	data, err := json.Marshal(i)
	if err != nil {
		return "", fmt.Errorf("encode invite: %w", err)
	}
	return InvitePrefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// ToQR renders the invite as a QR code PNG.
func (i *Invite) ToQR() ([]byte, error) {
	s, err := i.Encode()
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(s, qrcode.Low, 256)
}

// ToQRString renders the invite as an ASCII-art QR code for terminal display.
func (i *Invite) ToQRString() (string, error) {
	s, err := i.Encode()
	if err != nil {
		return "", err
	}
	qr, err := qrcode.New(s, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("build qr: %w", err)
	}
	return qr.ToSmallString(false), nil
}

// ParseInvite decodes and verifies an encoded invite string.
func ParseInvite(s string) (*Invite, error) {
	if !strings.HasPrefix(s, InvitePrefix) {
		return nil, fmt.Errorf("parse invite: missing %q prefix", InvitePrefix)
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, InvitePrefix))
	if err != nil {
		return nil, fmt.Errorf("parse invite: decode: %w", err)
	}

	var invite Invite
	if err := json.Unmarshal(raw, &invite); err != nil {
		return nil, fmt.Errorf("parse invite: decode json: %w", err)
	}
	if invite.IsExpired() {
		return nil, fmt.Errorf("parse invite: expired")
	}
	if len(invite.PublicKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("parse invite: bad public key length")
	}
	if !ed25519.Verify(ed25519.PublicKey(invite.PublicKey), invite.signableData(), invite.Signature) {
		return nil, fmt.Errorf("parse invite: invalid signature")
	}
	return &invite, nil
}

// IsExpired reports whether the invite's expiry has passed.
func (i *Invite) IsExpired() bool { return time.Now().Unix() > i.ExpiresAt }

// PeerId parses the invite's carried peer id.
func (i *Invite) PeerId() (ids.PeerId, error) { return ids.ParsePeerId(i.PeerID) }
