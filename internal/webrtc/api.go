package webrtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/interceptor/pkg/report"
	"github.com/pion/rtcp"
	pion "github.com/pion/webrtc/v4"
)

// NACKBufferSize is the number of packets buffered for NACK retransmission.
// A 1080p30 H264 stream at ~8Mbit/s produces ~700 packets/second, so 4096
// packets covers several seconds of retransmission window.
const NACKBufferSize = 4096

// SRTPReplayProtectionWindow must be at least as large as NACKBufferSize.
const SRTPReplayProtectionWindow = 8192

// newAPI creates a pion API configured for H264 sample streaming with RTCP
// feedback enabled.
func newAPI() (*pion.API, error) {
	m := &pion.MediaEngine{}
	if err := registerCodecs(m); err != nil {
		return nil, err
	}

	i := &interceptor.Registry{}
	if err := configureInterceptors(m, i); err != nil {
		return nil, err
	}
	i.Add(&rtcpMonitorInterceptorFactory{})

	s := pion.SettingEngine{}
	s.SetSRTPReplayProtectionWindow(SRTPReplayProtectionWindow)

	return pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(s),
	), nil
}

// registerCodecs registers the H264 profiles browsers commonly offer.
func registerCodecs(m *pion.MediaEngine) error {
	videoRTCPFeedback := []pion.RTCPFeedback{
		{Type: "goog-remb"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
	}

	for _, codec := range []pion.RTPCodecParameters{
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:     pion.MimeTypeH264,
				ClockRate:    90000,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f",
				RTCPFeedback: videoRTCPFeedback,
			},
			PayloadType: 96,
		},
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:     pion.MimeTypeH264,
				ClockRate:    90000,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
				RTCPFeedback: videoRTCPFeedback,
			},
			PayloadType: 97,
		},
		{
			// High Profile Level 3.1 (common browser default)
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:     pion.MimeTypeH264,
				ClockRate:    90000,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=64001f",
				RTCPFeedback: videoRTCPFeedback,
			},
			PayloadType: 98,
		},
	} {
		if err := m.RegisterCodec(codec, pion.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	return nil
}

// configureInterceptors sets up NACK handling and RTCP reports.
func configureInterceptors(m *pion.MediaEngine, i *interceptor.Registry) error {
	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return err
	}
	responder, err := nack.NewResponderInterceptor(
		nack.ResponderSize(NACKBufferSize),
	)
	if err != nil {
		return err
	}

	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack"}, pion.RTPCodecTypeVideo)
	m.RegisterFeedback(pion.RTCPFeedback{Type: "nack", Parameter: "pli"}, pion.RTPCodecTypeVideo)
	i.Add(responder)
	i.Add(generator)

	receiver, err := report.NewReceiverInterceptor()
	if err != nil {
		return err
	}
	sender, err := report.NewSenderInterceptor()
	if err != nil {
		return err
	}
	i.Add(receiver)
	i.Add(sender)

	return nil
}

// rtcpMonitorInterceptorFactory creates RTCP monitoring interceptors for metrics.
type rtcpMonitorInterceptorFactory struct{}

func (f *rtcpMonitorInterceptorFactory) NewInterceptor(_ string) (interceptor.Interceptor, error) {
	return &rtcpMonitorInterceptor{}, nil
}

// rtcpMonitorInterceptor counts incoming RTCP feedback for Prometheus.
type rtcpMonitorInterceptor struct {
	interceptor.NoOp
}

func (r *rtcpMonitorInterceptor) BindRTCPReader(reader interceptor.RTCPReader) interceptor.RTCPReader {
	return &rtcpMonitorReader{reader: reader}
}

type rtcpMonitorReader struct {
	reader interceptor.RTCPReader
}

func (r *rtcpMonitorReader) Read(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
	n, attr, err := r.reader.Read(b, a)
	if err != nil {
		return n, attr, err
	}

	packets, parseErr := rtcp.Unmarshal(b[:n])
	if parseErr != nil {
		return n, attr, err
	}

	for _, pkt := range packets {
		rtcpPackets.Inc()
		switch p := pkt.(type) {
		case *rtcp.TransportLayerNack:
			count := 0
			for _, item := range p.Nacks {
				count += 1 + len(item.PacketList())
			}
			nacksReceived.Add(float64(count))
		case *rtcp.PictureLossIndication:
			plisReceived.Inc()
		case *rtcp.FullIntraRequest:
			firsReceived.Inc()
		}
	}

	return n, attr, err
}
