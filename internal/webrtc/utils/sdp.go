package utils

import (
	"strings"

	"github.com/pion/sdp/v3"
)

// ForceStereoOpus marks every Opus payload in the audio sections as stereo so
// the viewer asks for the same channel layout the broadcaster sends.
func ForceStereoOpus(offer string) (string, error) {
	description := &sdp.SessionDescription{}
	if err := description.Unmarshal([]byte(offer)); err != nil {
		return "", err
	}

	for _, media := range description.MediaDescriptions {
		if media.MediaName.Media != "audio" {
			continue
		}

		for _, payloadType := range opusPayloadTypes(media) {
			setStereo(media, payloadType)
		}
	}

	rewritten, err := description.Marshal()
	if err != nil {
		return "", err
	}

	return string(rewritten), nil
}

func opusPayloadTypes(media *sdp.MediaDescription) []string {
	payloadTypes := []string{}
	for _, attribute := range media.Attributes {
		if attribute.Key != "rtpmap" {
			continue
		}

		fields := strings.Fields(attribute.Value)
		if len(fields) == 2 && strings.HasPrefix(strings.ToLower(fields[1]), "opus/") {
			payloadTypes = append(payloadTypes, fields[0])
		}
	}

	return payloadTypes
}

func setStereo(media *sdp.MediaDescription, payloadType string) {
	for i, attribute := range media.Attributes {
		if attribute.Key != "fmtp" || !strings.HasPrefix(attribute.Value, payloadType+" ") {
			continue
		}

		if !strings.Contains(attribute.Value, "stereo=1") {
			media.Attributes[i].Value = attribute.Value + ";stereo=1"
		}
		return
	}

	media.Attributes = append(media.Attributes, sdp.NewAttribute("fmtp", payloadType+" stereo=1"))
}
