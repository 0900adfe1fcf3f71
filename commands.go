package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/chat"
	"github.com/sleroq/web.cum.army/internal/environment"
	"github.com/sleroq/web.cum.army/internal/playback"
	"github.com/sleroq/web.cum.army/internal/status"
	"github.com/sleroq/web.cum.army/internal/webrtc"
	"github.com/sleroq/web.cum.army/internal/webrtc/sessions/whep"
	"github.com/sleroq/web.cum.army/internal/webrtc/sessions/whip"
	"github.com/sleroq/web.cum.army/internal/webrtc/utils"
)

const layerCommand = "/layer "

// play watches a stream. An empty line on stdin is the user gesture that
// unblocks playback with sound, "/layer <id>" switches layers and any other
// line is sent to the chat when it is enabled.
func (a *app) play(ctx context.Context) error {
	api, err := webrtc.NewAPI(a.logger)
	if err != nil {
		return err
	}

	sink := playback.NewForwardSink(playback.ForwardSinkConfig{
		AudioAddress: a.options.AudioAddress,
		VideoAddress: a.options.VideoAddress,
		Policy:       playback.GesturePolicy(),
		Logger:       a.logger,
	})
	defer func() {
		if err := sink.Close(); err != nil {
			a.logger.Debug("Sink.Close", zap.Error(err))
		}
	}()

	autoplayConfig := playback.DefaultAutoplayConfig()
	autoplayConfig.PreferSound = a.options.PreferSound
	autoplayConfig.Logger = a.logger
	autoplay := playback.NewAutoplay(sink, autoplayConfig)
	autoplay.OnStateChange(func(state playback.AutoplayStatus) {
		if state.ShowPlayButton {
			a.logger.Info("Autoplay.AwaitingUserGesture", zap.String("hint", "press enter to start playback"))
		}
	})
	autoplay.Start()
	defer autoplay.Stop()

	player, err := whep.NewPlayer(whep.PlayerConfig{
		StreamKey:              a.options.StreamKey,
		Sink:                   sink,
		Client:                 a.client,
		API:                    api,
		Chat:                   a.options.Chat,
		GatheringTimeout:       environment.GetDuration(environment.ICEGatheringTimeout, whep.DefaultGatheringTimeout),
		ReconnectDelay:         environment.GetDuration(environment.ReconnectDelay, whep.DefaultReconnectDelay),
		ExchangeReconnectDelay: environment.GetDuration(environment.ReconnectDelayExchange, whep.DefaultExchangeReconnectDelay),
		StatsSignalInterval:    environment.GetDuration(environment.StatsIntervalSignal, 0),
		StatsWaitingInterval:   environment.GetDuration(environment.StatsIntervalWaiting, 0),
		Telemetry:              a.telemetry,
		Logger:                 a.logger,
	})
	if err != nil {
		return err
	}

	var layerOnce sync.Once
	player.OnStateChange(func(state whep.PlayerState) {
		if a.options.Layer == "" || !slices.Contains(state.Layers, a.options.Layer) {
			return
		}

		layerOnce.Do(func() {
			go func() {
				if err := player.SelectLayer(ctx, a.options.Layer); err != nil {
					a.logger.Warn("Player.SelectLayer", zap.String("layer", a.options.Layer), zap.Error(err))
				}
			}()
		})
	})
	player.OnChatMessage(func(message chat.Message) {
		printChatMessage(os.Stdout, message)
	})

	stopMetrics, err := a.serveMetrics(func() any { return player.Snapshot() })
	if err != nil {
		return err
	}
	defer stopMetrics()

	player.Start()
	defer player.Stop()

	if !environment.IsEnabled(environment.DisableStatus) {
		poller := a.newPoller()
		poller.OnUpdate(func(results []status.Result) {
			a.telemetry.SetViewers(a.options.StreamKey, poller.ViewerCount(a.options.StreamKey))
		})
		poller.Start(ctx)
		defer poller.Stop()
	}

	lines := readLines(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				<-ctx.Done()
				return nil
			}

			switch {
			case strings.TrimSpace(line) == "":
				autoplay.HandleUserGesture(ctx)
			case strings.HasPrefix(line, layerCommand):
				if err := player.SelectLayer(ctx, strings.TrimSpace(strings.TrimPrefix(line, layerCommand))); err != nil {
					a.logger.Warn("Player.SelectLayer", zap.Error(err))
				}
			case a.options.Chat:
				if err := player.SendChat(ctx, line, a.options.DisplayName); err != nil {
					a.logger.Warn("Player.SendChat", zap.Error(err))
				}
			}
		}
	}
}

// publish sends RTP received on local UDP ports until interrupted. A media
// access failure ends the command.
func (a *app) publish(ctx context.Context) error {
	api, err := webrtc.NewAPI(a.logger)
	if err != nil {
		return err
	}

	source := whip.NewRTPSource(whip.RTPSourceConfig{
		AudioAddress:   a.options.PublishAudioAddress,
		VideoAddresses: a.options.PublishVideoAddress,
		VideoMimeType:  a.options.PublishVideoMimeType,
		ScreenShare:    a.options.ScreenShare,
		Logger:         a.logger,
	})

	broadcaster, err := whip.NewBroadcaster(whip.BroadcasterConfig{
		StreamKey:              a.options.StreamKey,
		Source:                 source,
		Client:                 a.client,
		API:                    api,
		GatheringTimeout:       environment.GetDuration(environment.ICEGatheringTimeout, whip.DefaultGatheringTimeout),
		ReconnectDelay:         environment.GetDuration(environment.ReconnectDelay, whip.DefaultReconnectDelay),
		ExchangeReconnectDelay: environment.GetDuration(environment.ReconnectDelayExchange, whip.DefaultExchangeReconnectDelay),
		StatsSignalInterval:    environment.GetDuration(environment.StatsIntervalSignal, whip.DefaultStatsSignalInterval),
		StatsWaitingInterval:   environment.GetDuration(environment.StatsIntervalWaiting, whip.DefaultStatsWaitingInterval),
		Telemetry:              a.telemetry,
		Logger:                 a.logger,
	})
	if err != nil {
		return err
	}
	defer broadcaster.Stop()

	var published atomic.Bool
	broadcaster.OnStateChange(func(state whip.BroadcasterState) {
		if published.Swap(state.PublishSuccess) != state.PublishSuccess {
			a.logger.Info("Broadcaster.Published", zap.Bool("live", state.PublishSuccess))
		}
	})

	stopMetrics, err := a.serveMetrics(func() any { return broadcaster.Snapshot() })
	if err != nil {
		return err
	}
	defer stopMetrics()

	if err := broadcaster.Start(ctx); err != nil {
		var mediaErr *whip.MediaAccessError
		if errors.As(err, &mediaErr) {
			fmt.Fprintln(os.Stderr, mediaErr.Message())
		}
		return err
	}

	<-ctx.Done()
	return nil
}

// status prints the server's stream list, once or on every poll.
func (a *app) status(ctx context.Context) error {
	poller := a.newPoller()

	if a.options.Once {
		results, err := poller.Refresh(ctx)
		if err != nil {
			return err
		}

		return a.printStatus(poller, results)
	}

	stopMetrics, err := a.serveMetrics(func() any { return poller.Results() })
	if err != nil {
		return err
	}
	defer stopMetrics()

	poller.OnUpdate(func(results []status.Result) {
		for _, result := range results {
			a.telemetry.SetViewers(result.StreamKey, len(result.WHEPSessions))
		}

		if err := a.printStatus(poller, results); err != nil {
			a.logger.Warn("Status.Print", zap.Error(err))
		}
	})
	poller.Start(ctx)
	defer poller.Stop()

	<-ctx.Done()
	return nil
}

func (a *app) printStatus(poller *status.Poller, results []status.Result) error {
	var content any = results
	if a.options.StreamKey != "" {
		result, ok := poller.Stream(a.options.StreamKey)
		if !ok {
			return fmt.Errorf("stream %q is not live", a.options.StreamKey)
		}
		content = result
	}

	output, err := utils.ToJSONString(content, "  ")
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(os.Stdout, output)
	return err
}

// chat follows a room over the HTTP transport and sends every stdin line.
func (a *app) chat(ctx context.Context) error {
	client := chat.NewClient(chat.ClientConfig{
		APIPath:     a.options.APIPath,
		StreamKey:   a.options.StreamKey,
		DisplayName: a.options.DisplayName,
		SendRate:    environment.GetFloat(environment.ChatSendRate, chat.DefaultSendRate),
		Logger:      a.logger,
	})
	client.OnMessage(func(message chat.Message) {
		printChatMessage(os.Stdout, message)
	})
	client.OnStatusChange(func(status chat.Status) {
		a.logger.Info("Chat.Status", zap.Stringer("status", status))
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() {
		runErr <- client.Run(ctx)
	}()

	lines := readLines(os.Stdin)
	for {
		select {
		case err := <-runErr:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if strings.TrimSpace(line) == "" {
				continue
			}

			if err := client.Send(ctx, line); err != nil {
				a.logger.Warn("Chat.Send", zap.Error(err))
			}
		}
	}
}

func (a *app) newPoller() *status.Poller {
	return status.NewPoller(status.PollerConfig{
		APIPath:        a.options.APIPath,
		Interval:       environment.GetDuration(environment.StatusPollInterval, status.DefaultInterval),
		TracerProvider: a.tracing.TracerProvider(),
		Logger:         a.logger,
	})
}

func printChatMessage(output io.Writer, message chat.Message) {
	fmt.Fprintf(output, "[%s] %s: %s\n", message.Time().Format("15:04:05"), message.DisplayName, message.Text)
}

// readLines feeds stdin lines to a channel closed at EOF.
func readLines(input io.Reader) <-chan string {
	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	return lines
}
