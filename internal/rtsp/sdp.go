package rtsp

import (
	"fmt"

	"github.com/pion/sdp/v3"

	"github.com/avpkit/mjpegstream/internal/rtpstream"
)

// describeSDP builds the DESCRIBE body for the MJPEG stream: a single
// video media section on RTP/AVP payload type 26, UDP only, with the
// session id as the SDP origin's session identifier.
func describeSDP(sessionID uint32, serverAddress, controlURL string) ([]byte, error) {
	info := sdp.Information("MJPEG Stream")
	description := sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(sessionID),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: serverAddress,
		},
		SessionName:        "MJPEG Stream",
		SessionInformation: &info,
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		Attributes: []sdp.Attribute{
			sdp.NewAttribute("control", controlURL),
			sdp.NewAttribute("mimetype", `string;"video/x-motion-jpeg"`),
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "video",
					Port:    sdp.RangedPort{Value: 0},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{fmt.Sprintf("%d", rtpstream.PayloadTypeJPEG)},
				},
				ConnectionInformation: &sdp.ConnectionInformation{
					NetworkType: "IN",
					AddressType: "IP4",
					Address:     &sdp.Address{Address: "0.0.0.0"},
				},
				Bandwidth: []sdp.Bandwidth{
					{Type: "AS", Bandwidth: 256},
				},
				Attributes: []sdp.Attribute{
					sdp.NewAttribute("control", controlURL),
					sdp.NewPropertyAttribute("udp-only"),
				},
			},
		},
	}
	return description.Marshal()
}
