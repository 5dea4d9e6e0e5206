package webrtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/AlexxIT/go2rtc/pkg/core"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/visionbox/camnode/internal/camera"
)

// FrameSource supplies the newest encoded frame, or nil when none exists.
// camera.Service satisfies this.
type FrameSource interface {
	Latest() *camera.Frame
}

const stateChanSize = 8

// Substate kinds reported to the arbiter. Each peer connection carries three
// independent state machines worth tracking.
const (
	KindConnection    = "connection"
	KindICEConnection = "ice_connection"
	KindICEGathering  = "ice_gathering"
)

// StateChange is one transition of one of the peer connection's state
// machines.
type StateChange struct {
	Kind  string
	Value string
}

// Session is one peer connection streaming the camera track. State
// transitions are delivered through the States channel rather than
// callbacks, so the owner decides where and when slot bookkeeping happens.
type Session struct {
	ID        string
	CreatedAt time.Time

	pc     *pion.PeerConnection
	track  *pion.TrackLocalStaticSample
	source FrameSource

	frameInterval time.Duration
	states        chan StateChange
	done          chan struct{}
	closeOnce     sync.Once
}

// newSession builds the peer connection and outgoing H264 track. The pump is
// not started until the handshake completes.
func newSession(id string, cfg pion.Configuration, source FrameSource, fps int) (*Session, error) {
	api, err := newAPI()
	if err != nil {
		return nil, fmt.Errorf("webrtc api: %w", err)
	}
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("peer connection: %w", err)
	}

	track, err := pion.NewTrackLocalStaticSample(
		pion.RTPCodecCapability{MimeType: pion.MimeTypeH264},
		"video-"+core.RandString(8, 10),
		"camnode",
	)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("video track: %w", err)
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add track: %w", err)
	}

	if fps <= 0 {
		fps = 30
	}
	s := &Session{
		ID:            id,
		CreatedAt:     time.Now(),
		pc:            pc,
		track:         track,
		source:        source,
		frameInterval: time.Second / time.Duration(fps),
		states:        make(chan StateChange, stateChanSize),
		done:          make(chan struct{}),
	}

	// RTCP must be drained for the feedback interceptors to see NACK/PLI.
	go s.drainRTCP(sender)

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		s.push(StateChange{Kind: KindConnection, Value: state.String()})
	})
	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		s.push(StateChange{Kind: KindICEConnection, Value: state.String()})
	})
	pc.OnICEGatheringStateChange(func(state pion.ICEGatheringState) {
		s.push(StateChange{Kind: KindICEGathering, Value: state.String()})
	})

	pc.OnDataChannel(func(dc *pion.DataChannel) {
		dc.OnMessage(func(msg pion.DataChannelMessage) {
			if string(msg.Data) == "ping" {
				_ = dc.SendText("pong")
			}
		})
	})

	return s, nil
}

// Handshake applies the remote offer and returns a complete answer with all
// ICE candidates gathered, so non-trickle clients work out of the box.
func (s *Session) Handshake(offerSDP string) (string, error) {
	offer := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offerSDP}
	if err := s.pc.SetRemoteDescription(offer); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gathered := pion.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-time.After(10 * time.Second):
		return "", fmt.Errorf("ICE gathering timed out")
	}

	local := s.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("no local description after gathering")
	}
	return local.SDP, nil
}

// AddCandidate applies a trickled remote ICE candidate.
func (s *Session) AddCandidate(candidate pion.ICECandidateInit) error {
	return s.pc.AddICECandidate(candidate)
}

// push queues a state transition without blocking the pion callback. When
// the channel is full the oldest entry is discarded, so a terminal
// failed/closed transition always survives for the watcher.
func (s *Session) push(st StateChange) {
	for {
		select {
		case s.states <- st:
			return
		default:
		}
		select {
		case <-s.states:
		default:
		}
	}
}

// States exposes state transitions for the owner to drain.
func (s *Session) States() <-chan StateChange {
	return s.states
}

// ConnectionState returns the current peer connection state.
func (s *Session) ConnectionState() pion.PeerConnectionState {
	return s.pc.ConnectionState()
}

// StartStreaming launches the sample pump.
func (s *Session) StartStreaming() {
	go s.pump()
}

// pump copies frames from the source into the track at the configured frame
// cadence. Nothing is written until the first keyframe so the decoder never
// starts mid-GOP; an unchanged slot is skipped rather than re-sent.
func (s *Session) pump() {
	ticker := time.NewTicker(s.frameInterval)
	defer ticker.Stop()

	var last *camera.Frame
	keyframeSeen := false

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		frame := s.source.Latest()
		if frame == nil || frame == last {
			continue
		}
		if !keyframeSeen {
			if !frame.Keyframe {
				continue
			}
			keyframeSeen = true
		}
		last = frame

		err := s.track.WriteSample(media.Sample{
			Data:     frame.Payload,
			Duration: s.frameInterval,
		})
		if err != nil {
			return
		}
		recordSample(len(frame.Payload))
	}
}

// drainRTCP keeps the RTCP reader alive so interceptors receive feedback.
func (s *Session) drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// Close stops the pump and tears down the peer connection. Safe to call more
// than once and from any goroutine.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pc.Close()
	})
	return err
}
