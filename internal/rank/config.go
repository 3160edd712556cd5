package rank

// Weights are the impact-score coefficients. GapPenalty is subtracted.
type Weights struct {
	Hook        float64 `toml:"hook"`
	Density     float64 `toml:"density"`
	Readability float64 `toml:"readability"`
	Duration    float64 `toml:"duration"`
	Keyword     float64 `toml:"keyword"`
	Structure   float64 `toml:"structure"`
	GapPenalty  float64 `toml:"gap_penalty"`
}

type Config struct {
	Weights Weights `toml:"weights"`

	FilterMinDuration float64 `toml:"filter_min_duration"`
	FilterMaxDuration float64 `toml:"filter_max_duration"`
	IdealMinDuration  float64 `toml:"ideal_min_duration"`
	IdealMaxDuration  float64 `toml:"ideal_max_duration"`

	OptimalWordsPerSec float64 `toml:"optimal_words_per_sec"`
	CPSIdealMin        float64 `toml:"cps_ideal_min"`
	CPSIdealMax        float64 `toml:"cps_ideal_max"`
	HookWindow         float64 `toml:"hook_window"`
	CTAPenalty         float64 `toml:"cta_penalty"`
	GapThreshold       float64 `toml:"gap_threshold"`

	NoveltyWeight     float64   `toml:"novelty_weight"`
	MaxSimBlend       float64   `toml:"max_sim_blend"`
	MeanSimBlend      float64   `toml:"mean_sim_blend"`
	PenaltyThresholds []float64 `toml:"penalty_thresholds"`
	Penalties         []float64 `toml:"penalties"`

	MinSelect        int     `toml:"min_select"`
	MaxSelect        int     `toml:"max_select"`
	PrimaryThreshold float64 `toml:"primary_threshold"`
	RelaxedThreshold float64 `toml:"relaxed_threshold"`
}

func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Hook:        0.25,
			Density:     0.20,
			Readability: 0.15,
			Duration:    0.15,
			Keyword:     0.15,
			Structure:   0.10,
			GapPenalty:  0.20,
		},
		FilterMinDuration:  10,
		FilterMaxDuration:  90,
		IdealMinDuration:   30,
		IdealMaxDuration:   90,
		OptimalWordsPerSec: 2.5,
		CPSIdealMin:        12,
		CPSIdealMax:        20,
		HookWindow:         10,
		CTAPenalty:         0.25,
		GapThreshold:       0.6,
		NoveltyWeight:      0.25,
		MaxSimBlend:        0.7,
		MeanSimBlend:       0.3,
		PenaltyThresholds:  []float64{0.90, 0.94, 0.96},
		Penalties:          []float64{0.08, 0.15, 0.25},
		MinSelect:          8,
		MaxSelect:          12,
		PrimaryThreshold:   0.94,
		RelaxedThreshold:   0.96,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.FilterMaxDuration <= c.FilterMinDuration {
		c.FilterMinDuration, c.FilterMaxDuration = d.FilterMinDuration, d.FilterMaxDuration
	}
	if c.IdealMaxDuration <= c.IdealMinDuration {
		c.IdealMinDuration, c.IdealMaxDuration = d.IdealMinDuration, d.IdealMaxDuration
	}
	if c.OptimalWordsPerSec <= 0 {
		c.OptimalWordsPerSec = d.OptimalWordsPerSec
	}
	if c.CPSIdealMax <= c.CPSIdealMin {
		c.CPSIdealMin, c.CPSIdealMax = d.CPSIdealMin, d.CPSIdealMax
	}
	if c.HookWindow <= 0 {
		c.HookWindow = d.HookWindow
	}
	if c.CTAPenalty < 0 {
		c.CTAPenalty = d.CTAPenalty
	}
	if c.GapThreshold <= 0 {
		c.GapThreshold = d.GapThreshold
	}
	if c.NoveltyWeight < 0 {
		c.NoveltyWeight = d.NoveltyWeight
	}
	if c.MaxSimBlend+c.MeanSimBlend <= 0 {
		c.MaxSimBlend, c.MeanSimBlend = d.MaxSimBlend, d.MeanSimBlend
	}
	if len(c.PenaltyThresholds) == 0 || len(c.PenaltyThresholds) != len(c.Penalties) {
		c.PenaltyThresholds, c.Penalties = d.PenaltyThresholds, d.Penalties
	}
	if c.MinSelect <= 0 {
		c.MinSelect = d.MinSelect
	}
	if c.MaxSelect < c.MinSelect {
		c.MaxSelect = max(d.MaxSelect, c.MinSelect)
	}
	if c.PrimaryThreshold <= 0 {
		c.PrimaryThreshold = d.PrimaryThreshold
	}
	if c.RelaxedThreshold < c.PrimaryThreshold {
		c.RelaxedThreshold = max(d.RelaxedThreshold, c.PrimaryThreshold)
	}
	return c
}
