package peerconnection

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

type GatheringNotifier interface {
	ICEGatheringState() webrtc.ICEGatheringState
	OnICEGatheringStateChange(func(webrtc.ICEGatheringState)) (dispose func())
}

// AwaitICEGatheringComplete blocks until gathering completes, the timeout
// passes or ctx ends, and reports whether gathering finished. The offer is
// shippable either way, partial candidates are fine.
func AwaitICEGatheringComplete(ctx context.Context, notifier GatheringNotifier, timeout time.Duration) bool {
	if notifier.ICEGatheringState() == webrtc.ICEGatheringStateComplete {
		return true
	}

	complete := make(chan struct{})
	var completeOnce sync.Once

	dispose := notifier.OnICEGatheringStateChange(func(state webrtc.ICEGatheringState) {
		if state == webrtc.ICEGatheringStateComplete {
			completeOnce.Do(func() { close(complete) })
		}
	})
	defer dispose()

	// Gathering may have finished between the first check and the subscription
	if notifier.ICEGatheringState() == webrtc.ICEGatheringStateComplete {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-complete:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
