// Command streamer is the CLI entry point: streamer <port>
// [--disable-uhid] [--audio <rate>:<channels>]. It wires the KMS capture,
// EGL/GLES GPU context, VA-API encoder, wire protocol, and optional audio
// and HID-injection collaborators together through internal/session and
// runs until SIGINT/SIGTERM.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"streamer/internal/audiosink"
	"streamer/internal/session"
)

var (
	flagDisableUHID = flag.Bool("disable-uhid", false, "disable HID input injection")
	flagAudio       = flag.String("audio", "", "enable audio as <rate>:<channels>, e.g. 48000:FL,FR")
	flagStats       = flag.Bool("stats", false, "log pipeline stats every 5 seconds")
)

// allowedChannelPositions is the fixed channel-position vocabulary
// permitted in the --audio flag's channel list.
var allowedChannelPositions = map[string]bool{
	"FL": true, "FR": true, "FC": true, "LFE": true, "SL": true, "SR": true,
	"FLC": true, "FRC": true, "RC": true, "RL": true, "RR": true, "TC": true,
	"TFL": true, "TFC": true, "TFR": true, "TRL": true, "TRC": true, "TRR": true,
	"RLC": true, "RRC": true, "FLW": true, "FRW": true, "LFE2": true, "FLH": true,
	"FCH": true, "FRH": true, "TFLC": true, "TFRC": true, "TSL": true, "TSR": true,
	"LLFE": true, "RLFE": true, "BC": true, "BLC": true, "BRC": true,
}

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	port, err := strconv.Atoi(flag.Arg(0))
	if err != nil || port <= 0 || port > 65535 {
		log.Fatal().Str("port", flag.Arg(0)).Msg("port must be a number in [1, 65535]")
	}

	cfg := session.Config{
		Port:        port,
		DisableUHID: *flagDisableUHID,
		Stats:       *flagStats,
	}

	if *flagAudio != "" {
		audioCfg, err := parseAudioFlag(*flagAudio)
		if err != nil {
			log.Fatal().Err(err).Str("audio", *flagAudio).Msg("invalid --audio flag")
		}
		cfg.Audio = &audioCfg
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("streamer exited with an error")
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <port> [--disable-uhid] [--audio <rate>:<channels>]\n", os.Args[0])
	flag.PrintDefaults()
}

// parseAudioFlag validates "<rate>:<channels>": rate in {44100, 48000},
// channels a comma-separated list drawn from the fixed position
// vocabulary.
func parseAudioFlag(s string) (audiosink.Config, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return audiosink.Config{}, fmt.Errorf("expected <rate>:<channels>, got %q", s)
	}

	rate, err := strconv.Atoi(parts[0])
	if err != nil {
		return audiosink.Config{}, fmt.Errorf("rate %q is not a number", parts[0])
	}
	if rate != 44100 && rate != 48000 {
		return audiosink.Config{}, fmt.Errorf("rate must be 44100 or 48000, got %d", rate)
	}

	positions := strings.Split(parts[1], ",")
	if len(positions) == 0 || len(positions) > 64 {
		return audiosink.Config{}, fmt.Errorf("channel list must have between 1 and 64 positions")
	}
	for _, p := range positions {
		if !allowedChannelPositions[p] {
			return audiosink.Config{}, fmt.Errorf("unknown channel position %q", p)
		}
	}

	return audiosink.Config{
		SampleRate: rate,
		Channels:   len(positions),
		WireLine:   s,
	}, nil
}

// run builds and drives the server; it never calls os.Exit so it can be
// exercised by a test without terminating the test binary.
func run(cfg session.Config) error {
	srv, err := session.New(cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	log.Info().Int("port", cfg.Port).Msg("streamer listening")
	return srv.Run()
}
