package dashboard

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/dj-oyu/detection-dashboard/internal/logger"
	"github.com/dj-oyu/detection-dashboard/internal/metrics"
)

// peer is one browser receiving state over a data channel.
type peer struct {
	id       string
	peerConn *webrtc.PeerConnection
	closeCh  chan struct{}
	sent     atomic.Uint64
	failed   atomic.Uint64
}

// DataChannelServer pushes state revisions to browsers over WebRTC data
// channels opened by the browser.
type DataChannelServer struct {
	peers    map[string]*peer
	peersMu  sync.RWMutex
	config   webrtc.Configuration
	maxPeers int
	api      *webrtc.API
	states   *StateBroadcaster
	metrics  *metrics.Metrics
}

// NewDataChannelServer creates a server that answers offers.
func NewDataChannelServer(stunServers []string, maxPeers int, states *StateBroadcaster, m *metrics.Metrics) *DataChannelServer {
	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, url := range stunServers {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{url}})
	}

	settingsEngine := webrtc.SettingEngine{}
	settingsEngine.SetDTLSRetransmissionInterval(2 * time.Second)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})

	return &DataChannelServer{
		peers:    make(map[string]*peer),
		config:   webrtc.Configuration{ICEServers: iceServers},
		maxPeers: maxPeers,
		api:      webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine)),
		states:   states,
		metrics:  m,
	}
}

// HandleOffer answers a browser offer. The answer includes all gathered
// ICE candidates.
func (s *DataChannelServer) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}
	if offer.SDP == "" || offer.Type != webrtc.SDPTypeOffer {
		return nil, fmt.Errorf("invalid offer")
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &peer{
		id:       "dc-" + uuid.NewString()[:8],
		peerConn: peerConn,
		closeCh:  make(chan struct{}),
	}

	// The peer holds its slot from here on, so state changes during ICE
	// gathering release it through RemovePeer.
	if !s.addPeer(p) {
		peerConn.Close()
		return nil, fmt.Errorf("maximum clients reached (%d)", s.maxPeers)
	}

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("WebRTC", "Peer %s connection state: %s", p.id, state.String())
		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			s.RemovePeer(p.id)
		}
	})

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		logger.Debug("WebRTC", "Peer %s opened data channel %q", p.id, dc.Label())
		dc.OnOpen(func() {
			go s.sendStates(p, dc)
		})
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		s.RemovePeer(p.id)
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		s.RemovePeer(p.id)
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)
	if err := peerConn.SetLocalDescription(answer); err != nil {
		s.RemovePeer(p.id)
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	switch peerConn.ConnectionState() {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		s.RemovePeer(p.id)
		return nil, fmt.Errorf("peer connection %s during ICE gathering", peerConn.ConnectionState())
	}
	if !s.hasPeer(p.id) {
		return nil, fmt.Errorf("peer closed during ICE gathering")
	}

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemovePeer(p.id)
		return nil, fmt.Errorf("no local description available")
	}
	logger.Info("WebRTC", "Peer %s connected", p.id)
	return json.Marshal(localDesc)
}

// addPeer registers p unless the server is full.
func (s *DataChannelServer) addPeer(p *peer) bool {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	if len(s.peers) >= s.maxPeers {
		return false
	}
	s.peers[p.id] = p
	s.metrics.DataChannelClients.Add(1)
	return true
}

func (s *DataChannelServer) hasPeer(id string) bool {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	_, ok := s.peers[id]
	return ok
}

// sendStates forwards state events to one data channel until the peer is
// removed.
func (s *DataChannelServer) sendStates(p *peer, dc *webrtc.DataChannel) {
	id, eventCh := s.states.Subscribe()
	defer s.states.Unsubscribe(id)

	for {
		select {
		case <-p.closeCh:
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if err := dc.SendText(string(event.JSONData)); err != nil {
				p.failed.Add(1)
				logger.Debug("WebRTC", "Send to peer %s failed: %v", p.id, err)
				return
			}
			p.sent.Add(1)
		}
	}
}

// RemovePeer closes and forgets a peer. Unknown ids are ignored.
func (s *DataChannelServer) RemovePeer(id string) {
	s.peersMu.Lock()
	p, ok := s.peers[id]
	if ok {
		delete(s.peers, id)
	}
	s.peersMu.Unlock()
	if !ok {
		return
	}

	close(p.closeCh)
	p.peerConn.Close()
	s.metrics.DataChannelClients.Add(^uint64(0))
	logger.Info("WebRTC", "Peer %s disconnected (sent: %d, failed: %d)", id, p.sent.Load(), p.failed.Load())
}

// PeerCount returns the number of connected peers.
func (s *DataChannelServer) PeerCount() int {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	return len(s.peers)
}

// Close disconnects every peer.
func (s *DataChannelServer) Close() {
	s.peersMu.RLock()
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	s.peersMu.RUnlock()
	for _, id := range ids {
		s.RemovePeer(id)
	}
}
