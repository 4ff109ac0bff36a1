package p2p

import (
	"context"
	"encoding/json"
	"time"

	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
)

// identifyProtocolID is a one-shot stream protocol exchanging each side's
// application-level ids.PeerId, bridging it to the libp2p peer.ID the
// connection is keyed on. Run once per newly discovered libp2p peer, before
// it is surfaced to the orchestrator as a DiscoveredPeer.
const identifyProtocolID = protocol.ID("/syncd/identify/1.0.0")

type identifyPayload struct {
	PeerID     ids.PeerId `json:"peer_id"`
	DeviceName string     `json:"device_name"`
}

// handleIdentifyStream answers an inbound identify request with our own
// identity.
func (t *Transport) handleIdentifyStream(s network.Stream) {
	defer s.Close()
	s.SetDeadline(time.Now().Add(t.config.IdentifyTimeout))

	data, err := readFrame(s)
	if err != nil {
		return
	}
	var remote identifyPayload
	if err := json.Unmarshal(data, &remote); err != nil {
		return
	}

	reply, err := json.Marshal(identifyPayload{PeerID: t.localPeer, DeviceName: t.config.DeviceName})
	if err != nil {
		return
	}
	if err := writeFrame(s, reply); err != nil {
		return
	}

	addrs := []multiaddr.Multiaddr{}
	if ma := s.Conn().RemoteMultiaddr(); ma != nil {
		addrs = append(addrs, ma)
	}
	t.registry.register(remote.PeerID, peer.AddrInfo{ID: s.Conn().RemotePeer(), Addrs: addrs}, remote.DeviceName)
}

// identify dials peerInfo's identify protocol and returns its declared
// ids.PeerId and device name.
func (t *Transport) identify(peerInfo peer.AddrInfo) (ids.PeerId, string, error) {
	ctx, cancel := context.WithTimeout(t.ctx, t.config.IdentifyTimeout)
	defer cancel()

	stream, err := t.host.NewStream(ctx, peerInfo.ID, identifyProtocolID)
	if err != nil {
		return ids.PeerId{}, "", err
	}
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(t.config.IdentifyTimeout))

	req, err := json.Marshal(identifyPayload{PeerID: t.localPeer, DeviceName: t.config.DeviceName})
	if err != nil {
		return ids.PeerId{}, "", err
	}
	if err := writeFrame(stream, req); err != nil {
		return ids.PeerId{}, "", err
	}

	data, err := readFrame(stream)
	if err != nil {
		return ids.PeerId{}, "", err
	}
	var remote identifyPayload
	if err := json.Unmarshal(data, &remote); err != nil {
		return ids.PeerId{}, "", err
	}
	return remote.PeerID, remote.DeviceName, nil
}
