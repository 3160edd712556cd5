package render

import "clipfactory/internal/subtitle"

const (
	ModeCrop = "crop"
	ModeBlur = "blur"
)

type Config struct {
	Width        int            `toml:"width"`
	Height       int            `toml:"height"`
	Mode         string         `toml:"mode"`
	BatchSize    int            `toml:"batch_size"`
	Threads      int            `toml:"threads"`
	Preset       string         `toml:"preset"`
	CRF          int            `toml:"crf"`
	AudioBitrate string         `toml:"audio_bitrate"`
	Loudnorm     string         `toml:"loudnorm"`
	Style        subtitle.Style `toml:"style"`
}

func DefaultConfig() Config {
	return Config{
		Width:        1080,
		Height:       1920,
		Mode:         ModeCrop,
		BatchSize:    3,
		Preset:       "veryfast",
		CRF:          23,
		AudioBitrate: "128k",
		Loudnorm:     "I=-14:TP=-1.5:LRA=11",
		Style:        subtitle.DefaultStyle(),
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = d.Width, d.Height
	}
	if c.Mode != ModeBlur {
		c.Mode = ModeCrop
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Preset == "" {
		c.Preset = d.Preset
	}
	if c.CRF <= 0 {
		c.CRF = d.CRF
	}
	if c.AudioBitrate == "" {
		c.AudioBitrate = d.AudioBitrate
	}
	if c.Loudnorm == "" {
		c.Loudnorm = d.Loudnorm
	}
	if c.Style.Font == "" {
		c.Style = d.Style
	}
	return c
}
