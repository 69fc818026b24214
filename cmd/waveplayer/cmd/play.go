package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wk-j/waveplayer/internal/audio"
	"github.com/wk-j/waveplayer/internal/catalog"
	"github.com/wk-j/waveplayer/internal/config"
	"github.com/wk-j/waveplayer/internal/controller"
	"github.com/wk-j/waveplayer/internal/device"
	"github.com/wk-j/waveplayer/internal/track"
)

var (
	serverURL  string
	serverUser string
	serverPass string
	shuffleQ   bool
	repeatMode string
)

func playCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play [file-or-url ...]",
		Short: "Queue files or stream URLs and play them back to back",
		Long: "Queue one or more local files, HTTP(S) stream URLs, or (with no arguments\n" +
			"and a configured server) shuffle continuously from an Ampache catalog.",
		RunE: runPlay,
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Ampache server URL, enables shuffle scheduling")
	cmd.Flags().StringVar(&serverUser, "user", "", "Ampache username")
	cmd.Flags().StringVar(&serverPass, "password", "", "Ampache password")
	cmd.Flags().BoolVar(&shuffleQ, "shuffle", false, "shuffle the queued tracks before playback")
	cmd.Flags().StringVar(&repeatMode, "repeat", "off", "repeat mode once the queue drains: off, all, or one")
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		fmt.Println("error binding play flags:", err)
	}

	return cmd
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	format := audio.CDQuality
	newDev := func() device.OutputDevice { return device.NewPortAudioDevice(format) }

	ctrl := controller.New(cfg, format, newDev)
	wireLogging(ctrl)

	if serverURL != "" {
		cl := catalog.New(serverURL, serverUser, serverPass)
		go cl.Run()
		defer cl.Stop()
		ctrl.AddCatalogClient(cl)
	}

	for _, arg := range args {
		ctrl.Enqueue(infoFromArg(arg))
	}

	switch repeatMode {
	case "all":
		ctrl.CycleRepeat()
	case "one":
		ctrl.CycleRepeat()
		ctrl.CycleRepeat()
	case "off", "":
	default:
		return fmt.Errorf("invalid --repeat value %q: must be off, all, or one", repeatMode)
	}
	if shuffleQ {
		ctrl.ToggleShuffle()
	}

	if ctrl.Len() == 0 && serverURL == "" {
		return fmt.Errorf("no tracks queued: pass at least one file/URL, or --server for shuffle playback")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	if ctrl.Len() > 0 {
		if err := ctrl.Start(ctx); err != nil {
			return fmt.Errorf("start playback: %w", err)
		}
	}

	<-ctx.Done()
	return nil
}

func wireLogging(ctrl *controller.Controller) {
	ctrl.OnTrackChanged(func(info track.Info) {
		log.Info("now playing", "title", info.Title, "artist", info.Artist)
	})
	ctrl.OnPosition(func(ms int64) {
		log.Debug("position", "ms", ms)
	})
	ctrl.OnPeak(func(l, r float64, delayUs int64) {
		log.Debug("peak", "left", l, "right", r)
	})
	ctrl.OnError(func(err error) {
		log.Error("pipeline error", "err", err)
		if ctrl.Dead() {
			log.Error("too many consecutive start failures, shutting down")
			os.Exit(1)
		}
	})
}

// infoFromArg builds a track.Info for a bare file path or stream URL
// argument, deriving a display title from the filename the way
// wk-j-cliamp's playlist.TrackFromPath does, and marking it a radio
// station when it isn't a local path (so the cache picks the
// destructive ring backend instead of a temp file).
func infoFromArg(arg string) track.Info {
	info := track.Info{ID: arg, URL: arg}
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		info.Title = arg
		info.Attrs = map[string]string{"radioStation": "1"}
		return info
	}

	base := filepath.Base(arg)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.SplitN(name, " - ", 2)
	if len(parts) == 2 {
		info.Artist = strings.TrimSpace(parts[0])
		info.Title = strings.TrimSpace(parts[1])
	} else {
		info.Title = name
	}
	// Local-file tag reading is out of scope; fade/crossfade tags are
	// only known for catalog-sourced tracks (see controller.infoFromResult).
	return info
}
