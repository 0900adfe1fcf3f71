package peerconnection

import (
	"os"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/sleroq/web.cum.army/internal/environment"
)

var defaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// ResolveICEServers splits a comma separated server list, keeping the trimmed
// non-empty entries in order. An empty result yields the public STUN defaults.
func ResolveICEServers(raw string) []string {
	servers := []string{}
	for server := range strings.SplitSeq(raw, ",") {
		if server = strings.TrimSpace(server); server != "" {
			servers = append(servers, server)
		}
	}

	if len(servers) == 0 {
		return append(servers, defaultICEServers...)
	}

	return servers
}

func NewConfiguration(servers []string) webrtc.Configuration {
	config := webrtc.Configuration{}
	for _, server := range servers {
		config.ICEServers = append(config.ICEServers, webrtc.ICEServer{
			URLs: []string{server},
		})
	}

	return config
}

func GetPeerConnectionConfig() webrtc.Configuration {
	return NewConfiguration(ResolveICEServers(os.Getenv(environment.ICEServers)))
}
