package stats

import (
	"encoding/json"
	"fmt"
)

// Collect flattens a pion report into Stats. Entries that do not encode are
// skipped, a panicking source yields an error.
func Collect(source Source) (report Report, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			report = nil
			err = fmt.Errorf("stats: reading report: %v", recovered)
		}
	}()

	if source == nil {
		return nil, ErrNoSource
	}

	for _, entry := range source.GetStats() {
		encoded, marshalErr := json.Marshal(entry)
		if marshalErr != nil {
			continue
		}

		var stat Stat
		if unmarshalErr := json.Unmarshal(encoded, &stat); unmarshalErr != nil {
			continue
		}

		report = append(report, stat)
	}

	return report, nil
}

// Derive computes the health of one tick from the inbound video report and the
// previous snapshot. Every division is guarded since counters may repeat
// between ticks. Without an inbound video report the snapshot is kept.
func Derive(report Report, previous Snapshot) (DerivedHealth, Snapshot) {
	health := DerivedHealth{}
	next := previous

	jitterBufferMs := 0.0
	roundTripMs := 0.0

	for _, stat := range report {
		if stat.Type == "inbound-rtp" && stat.Kind == "video" {
			elapsedSeconds := (stat.Timestamp - previous.Timestamp) / 1000

			deltaDelay := stat.JitterBufferDelay - previous.JitterBufferDelay
			deltaEmitted := counterDelta(stat.JitterBufferEmittedCount, previous.JitterBufferEmittedCount)
			if deltaEmitted > 0 {
				jitterBufferMs = deltaDelay / deltaEmitted * 1000
			}

			deltaLost := float64(stat.PacketsLost - previous.PacketsLost)
			deltaReceived := counterDelta(stat.PacketsReceived, previous.PacketsReceived)
			if total := deltaLost + deltaReceived; total > 0 {
				health.LossRate = deltaLost / total
				health.HasPacketLoss = health.LossRate > packetLossThreshold
			}

			if elapsedSeconds > 0 {
				health.FPS = counterDelta(stat.FramesDecoded, previous.FramesDecoded) / elapsedSeconds
				health.DroppedFrames = counterDelta(stat.FramesDropped, previous.FramesDropped)
			}

			next = Snapshot{
				JitterBufferDelay:        stat.JitterBufferDelay,
				JitterBufferEmittedCount: stat.JitterBufferEmittedCount,
				PacketsLost:              stat.PacketsLost,
				PacketsReceived:          stat.PacketsReceived,
				FramesDecoded:            stat.FramesDecoded,
				FramesDropped:            stat.FramesDropped,
				Timestamp:                stat.Timestamp,
			}
		}

		if stat.Type == "candidate-pair" && stat.State == "succeeded" {
			roundTripMs = stat.CurrentRoundTripTime * 1000
		}
	}

	health.LatencyMs = jitterBufferMs + roundTripMs/2
	return health, next
}

// Sample reads the source and derives one tick. A failed read is a zero
// sample that keeps the previous snapshot.
func Sample(source Source, previous Snapshot) (DerivedHealth, Snapshot, error) {
	report, err := Collect(source)
	if err != nil {
		return DerivedHealth{}, previous, err
	}

	health, next := Derive(report, previous)
	return health, next, nil
}

// DerivePublisher folds one sender report into the broadcaster health. A
// report carrying a usable candidate pair resets the bad-signal count, one
// carrying only unusable pairs grows it.
func DerivePublisher(report Report, badSignalCount int) (PublisherHealth, int) {
	health := PublisherHealth{}
	sawCandidatePair, signalIsValid := false, false

	for _, stat := range report {
		switch stat.Type {
		case "outbound-rtp":
			health.HasPacketLoss = health.HasPacketLoss || stat.TotalPacketSendDelay > sendDelayThreshold
		case "candidate-pair":
			sawCandidatePair = true
			// pion leaves the incoming bitrate at zero, a succeeded pair counts as well
			if stat.State == "succeeded" || (stat.AvailableIncomingBitrate != nil && *stat.AvailableIncomingBitrate > 0) {
				signalIsValid = true
			}
		}
	}

	if !sawCandidatePair {
		return health, badSignalCount
	}

	if signalIsValid {
		badSignalCount = 0
	} else {
		badSignalCount++
	}

	if badSignalCount > badSignalLimit {
		health.HasSignal, health.SignalChanged = false, true
	} else if badSignalCount == 0 {
		health.HasSignal, health.SignalChanged = true, true
	}

	return health, badSignalCount
}

func SamplePublisher(source Source, badSignalCount int) (PublisherHealth, int, error) {
	report, err := Collect(source)
	if err != nil {
		return PublisherHealth{}, badSignalCount, err
	}

	health, count := DerivePublisher(report, badSignalCount)
	return health, count, nil
}

// counterDelta treats a counter that went backwards as unchanged.
func counterDelta(current, previous uint64) float64 {
	if current < previous {
		return 0
	}

	return float64(current - previous)
}
