package console

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sleroq/web.cum.army/internal/environment"
)

type Command string

const (
	CommandPlay    Command = "play"
	CommandPublish Command = "publish"
	CommandStatus  Command = "status"
	CommandChat    Command = "chat"
)

var (
	ErrUnknownCommand   = errors.New("console: unknown command")
	ErrMissingStreamKey = errors.New("console: a stream key is required")
)

// Options is the parsed command line. Flags default to their environment
// variables, so a .env file can carry everything.
type Options struct {
	Command   Command
	StreamKey string
	APIPath   string

	Metrics        bool
	MetricsAddress string

	// play
	AudioAddress string
	VideoAddress string
	Layer        string
	Chat         bool
	PreferSound  bool

	// publish
	PublishAudioAddress  string
	PublishVideoAddress  []string
	PublishVideoMimeType string
	ScreenShare          bool

	// chat
	DisplayName string

	// status
	Once bool
}

const usage = `Usage: %s <command> [flags]

Commands:
  play     watch a stream, forwarding its RTP to local UDP ports
  publish  publish RTP received on local UDP ports
  status   list the streams the server reports
  chat     follow and write to the chat room of a stream

Run '%s <command> -h' for the flags of a command.
`

// HandleConsoleFlags parses os.Args and exits with a usage message when they
// are not valid.
func HandleConsoleFlags() Options {
	options, err := ParseArgs(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintf(os.Stderr, usage, os.Args[0], os.Args[0])
		os.Exit(2)
	}

	return options
}

func ParseArgs(args []string, output io.Writer) (Options, error) {
	if len(args) == 0 {
		return Options{}, fmt.Errorf("%w: none given", ErrUnknownCommand)
	}

	options := Options{Command: Command(args[0])}
	flags := flag.NewFlagSet(args[0], flag.ContinueOnError)
	flags.SetOutput(output)

	var publishVideo string

	flags.StringVar(&options.APIPath, "api", environment.GetAPIPath(), "broadcast-box API path")
	flags.BoolVar(&options.Metrics, "metrics", os.Getenv(environment.MetricsAddress) != "", "serve /metrics and /healthz")
	flags.StringVar(&options.MetricsAddress, "metrics-address", os.Getenv(environment.MetricsAddress), "address of the metrics endpoint")

	switch options.Command {
	case CommandPlay:
		addStreamKey(flags, &options)
		flags.StringVar(&options.AudioAddress, "audio", os.Getenv(environment.PlaybackAudioAddress), "UDP address audio RTP is forwarded to")
		flags.StringVar(&options.VideoAddress, "video", os.Getenv(environment.PlaybackVideoAddress), "UDP address video RTP is forwarded to")
		flags.StringVar(&options.Layer, "layer", "", "simulcast encoding to select once advertised")
		flags.BoolVar(&options.Chat, "chat", false, "join the chat over the session data channel")
		flags.StringVar(&options.DisplayName, "name", os.Getenv(environment.ChatDisplayName), "chat display name")
		flags.BoolVar(&options.PreferSound, "sound", preferSound(), "try to start playback unmuted")

	case CommandPublish:
		addStreamKey(flags, &options)
		flags.StringVar(&options.PublishAudioAddress, "audio", os.Getenv(environment.PublishAudioAddress), "UDP address audio RTP is received on")
		flags.StringVar(&publishVideo, "video", os.Getenv(environment.PublishVideoAddress), "comma separated UDP addresses of the video layers; simulcast needs three (high,med,low), a single address publishes one encoding")
		flags.StringVar(&options.PublishVideoMimeType, "codec", "", "video codec mime type, VP8 when empty")
		flags.BoolVar(&options.ScreenShare, "screen", environment.IsEnabled(environment.PublishScreenShare), "publish a single encoding")

	case CommandChat:
		addStreamKey(flags, &options)
		flags.StringVar(&options.DisplayName, "name", os.Getenv(environment.ChatDisplayName), "chat display name")

	case CommandStatus:
		flags.StringVar(&options.StreamKey, "stream", os.Getenv(environment.StreamKey), "only show this stream")
		flags.BoolVar(&options.Once, "once", false, "print the current status and exit")

	default:
		return Options{}, fmt.Errorf("%w: %q", ErrUnknownCommand, args[0])
	}

	if err := flags.Parse(args[1:]); err != nil {
		return Options{}, err
	}

	if options.StreamKey == "" && flags.NArg() > 0 {
		options.StreamKey = flags.Arg(0)
	}
	if options.StreamKey == "" && options.Command != CommandStatus {
		return Options{}, ErrMissingStreamKey
	}

	for address := range strings.SplitSeq(publishVideo, ",") {
		if address = strings.TrimSpace(address); address != "" {
			options.PublishVideoAddress = append(options.PublishVideoAddress, address)
		}
	}

	return options, nil
}

func addStreamKey(flags *flag.FlagSet, options *Options) {
	flags.StringVar(&options.StreamKey, "stream", os.Getenv(environment.StreamKey), "stream key")
}

// preferSound defaults to true unless PLAYBACK_PREFER_SOUND says otherwise.
func preferSound() bool {
	if os.Getenv(environment.PlaybackPreferSound) == "" {
		return true
	}

	return environment.IsEnabled(environment.PlaybackPreferSound)
}
