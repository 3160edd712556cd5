package scenes

// Config holds every segmentation threshold. Durations are in seconds.
type Config struct {
	MinDuration         float64 `toml:"min_duration"`
	MaxDuration         float64 `toml:"max_duration"`
	TargetDuration      float64 `toml:"target_duration"`
	SilenceThresholdDB  float64 `toml:"silence_threshold_db"`
	MinSilence          float64 `toml:"min_silence"`
	WindowSec           float64 `toml:"window_sec"`
	Overlap             float64 `toml:"overlap"`
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	MergeTolerance      float64 `toml:"merge_tolerance"`
	SemanticPadding     float64 `toml:"semantic_padding"`
	MaxCandidates       int     `toml:"max_candidates"`
	MinCandidates       int     `toml:"min_candidates"`
	FallbackFactor      float64 `toml:"fallback_factor"`
	OptimalWordsPerSec  float64 `toml:"optimal_words_per_sec"`
	ExcerptChars        int     `toml:"excerpt_chars"`
}

func DefaultConfig() Config {
	return Config{
		MinDuration:         20,
		MaxDuration:         75,
		TargetDuration:      45,
		SilenceThresholdDB:  -35,
		MinSilence:          0.5,
		WindowSec:           15,
		Overlap:             0.25,
		SimilarityThreshold: 0.85,
		MergeTolerance:      1.0,
		SemanticPadding:     0.4,
		MaxCandidates:       16,
		MinCandidates:       8,
		FallbackFactor:      0.6,
		OptimalWordsPerSec:  2.5,
		ExcerptChars:        500,
	}
}

// FallbackMinDuration is the relaxed minimum used by the even-split pass.
func (c Config) FallbackMinDuration() float64 {
	return c.FallbackFactor * c.MinDuration
}

// normalized fills zero fields from the defaults.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MinDuration <= 0 {
		c.MinDuration = d.MinDuration
	}
	if c.MaxDuration <= c.MinDuration {
		c.MaxDuration = d.MaxDuration
	}
	if c.TargetDuration <= 0 {
		c.TargetDuration = d.TargetDuration
	}
	if c.SilenceThresholdDB == 0 {
		c.SilenceThresholdDB = d.SilenceThresholdDB
	}
	if c.MinSilence <= 0 {
		c.MinSilence = d.MinSilence
	}
	if c.WindowSec <= 0 {
		c.WindowSec = d.WindowSec
	}
	if c.Overlap < 0 || c.Overlap >= 1 {
		c.Overlap = d.Overlap
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = d.SimilarityThreshold
	}
	if c.MergeTolerance <= 0 {
		c.MergeTolerance = d.MergeTolerance
	}
	if c.SemanticPadding < 0 {
		c.SemanticPadding = d.SemanticPadding
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = d.MaxCandidates
	}
	if c.MinCandidates <= 0 {
		c.MinCandidates = d.MinCandidates
	}
	if c.FallbackFactor <= 0 || c.FallbackFactor > 1 {
		c.FallbackFactor = d.FallbackFactor
	}
	if c.OptimalWordsPerSec <= 0 {
		c.OptimalWordsPerSec = d.OptimalWordsPerSec
	}
	if c.ExcerptChars <= 0 {
		c.ExcerptChars = d.ExcerptChars
	}
	return c
}
