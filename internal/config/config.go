// Package config loads the waveplayer options via viper, the way
// tphakala/birdnet-go's internal/conf layers a YAML file plus
// environment overrides onto typed defaults.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable named in the design's configuration-keys
// table (options/*, eq/*).
type Config struct {
	ShuffleCount            int
	ShuffleFavoriteFrequency int
	ShuffleDelaySeconds     int
	RandomListsCount        int
	FadeTags                []string
	CrossfadeTags           []string
	ShuffleTag              string   // singular: genre-browsing shuffle filter
	ShuffleTags             []string // list: user-selected global tag filter
	FadeSeconds             float64
	MaxPeakFPS              int
	PeakDelayOn             bool
	PeakDelayMS             int

	EQOn     bool
	EQGains  []float64 // eq1..eq10
	EQPreAmp float64
}

// FadeDuration returns the configured fade length as a time.Duration.
func (c Config) FadeDuration() time.Duration {
	return time.Duration(c.FadeSeconds * float64(time.Second))
}

// Default returns the configuration defaults named throughout the design.
func Default() Config {
	return Config{
		ShuffleCount:             5,
		ShuffleFavoriteFrequency: 4,
		ShuffleDelaySeconds:      10,
		RandomListsCount:         11,
		FadeTags:                 []string{"live", "medley", "nonstop"},
		CrossfadeTags:            []string{"live"},
		FadeSeconds:              4,
		MaxPeakFPS:               25,
		PeakDelayOn:              false,
		PeakDelayMS:              333,
		EQOn:                     false,
	}
}

// Load reads configuration from path (if non-empty) and environment
// variables prefixed WAVEPLAYER_, falling back to Default() for any key
// left unset.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("waveplayer")
	v.SetEnvKeyReplacer(strings.NewReplacer("/", "_", ".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("options.shuffle_count", d.ShuffleCount)
	v.SetDefault("options.shuffle_favorite_frequency", d.ShuffleFavoriteFrequency)
	v.SetDefault("options.shuffle_delay_seconds", d.ShuffleDelaySeconds)
	v.SetDefault("options.random_lists_count", d.RandomListsCount)
	v.SetDefault("options.fade_tags", d.FadeTags)
	v.SetDefault("options.crossfade_tags", d.CrossfadeTags)
	v.SetDefault("options.shuffle_tag", "")
	v.SetDefault("options.shuffle_tags", []string{})
	v.SetDefault("options.fade_seconds", d.FadeSeconds)
	v.SetDefault("options.max_peak_fps", d.MaxPeakFPS)
	v.SetDefault("options.peak_delay_on", d.PeakDelayOn)
	v.SetDefault("options.peak_delay_ms", d.PeakDelayMS)
	v.SetDefault("eq.on", d.EQOn)
	v.SetDefault("eq.pre_amp", d.EQPreAmp)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	gains := make([]float64, 0, 10)
	for i := 1; i <= 10; i++ {
		key := "eq.eq" + strconv.Itoa(i)
		if v.IsSet(key) {
			gains = append(gains, v.GetFloat64(key))
		}
	}

	return Config{
		ShuffleCount:             v.GetInt("options.shuffle_count"),
		ShuffleFavoriteFrequency: v.GetInt("options.shuffle_favorite_frequency"),
		ShuffleDelaySeconds:      v.GetInt("options.shuffle_delay_seconds"),
		RandomListsCount:         v.GetInt("options.random_lists_count"),
		FadeTags:                 v.GetStringSlice("options.fade_tags"),
		CrossfadeTags:            v.GetStringSlice("options.crossfade_tags"),
		ShuffleTag:               v.GetString("options.shuffle_tag"),
		ShuffleTags:              v.GetStringSlice("options.shuffle_tags"),
		FadeSeconds:              v.GetFloat64("options.fade_seconds"),
		MaxPeakFPS:               v.GetInt("options.max_peak_fps"),
		PeakDelayOn:              v.GetBool("options.peak_delay_on"),
		PeakDelayMS:              v.GetInt("options.peak_delay_ms"),
		EQOn:                     v.GetBool("eq.on"),
		EQGains:                  gains,
		EQPreAmp:                 v.GetFloat64("eq.pre_amp"),
	}, nil
}
