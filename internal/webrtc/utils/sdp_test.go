package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOffer = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111 0\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=rtpmap:111 opus/48000/2\r\n" +
	"a=fmtp:111 minptime=10;useinbandfec=1\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=recvonly\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:1\r\n" +
	"a=rtpmap:96 VP8/90000\r\n" +
	"a=fmtp:96 max-fs=12288\r\n" +
	"a=recvonly\r\n"

func TestForceStereoOpus(t *testing.T) {
	rewritten, err := ForceStereoOpus(testOffer)
	require.NoError(t, err)

	assert.Contains(t, rewritten, "a=fmtp:111 minptime=10;useinbandfec=1;stereo=1")
	assert.Contains(t, rewritten, "a=fmtp:96 max-fs=12288\r\n")
	assert.Equal(t, 1, strings.Count(rewritten, "stereo=1"))
}

func TestForceStereoOpusIsIdempotent(t *testing.T) {
	once, err := ForceStereoOpus(testOffer)
	require.NoError(t, err)

	twice, err := ForceStereoOpus(once)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestForceStereoOpusAddsMissingFmtp(t *testing.T) {
	offer := strings.Replace(testOffer, "a=fmtp:111 minptime=10;useinbandfec=1\r\n", "", 1)

	rewritten, err := ForceStereoOpus(offer)
	require.NoError(t, err)
	assert.Contains(t, rewritten, "a=fmtp:111 stereo=1")
}

func TestForceStereoOpusRejectsGarbage(t *testing.T) {
	_, err := ForceStereoOpus("not an sdp")
	assert.Error(t, err)
}
