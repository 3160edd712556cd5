package texts

const (
	minHashtags      = 3
	hashtagsCeiling  = 60
	defaultShortsTag = "shorts"
)

type Config struct {
	TitleMaxChars       int      `toml:"title_max_chars"`
	DescriptionMaxChars int      `toml:"description_max_chars"`
	MaxHashtags         int      `toml:"max_hashtags"`
	BannedHashtags      []string `toml:"banned_hashtags"`
	FallbackHashtags    []string `toml:"fallback_hashtags"`
	ShortsTag           string   `toml:"shorts_tag"`
	ShortsMaxDuration   float64  `toml:"shorts_max_duration"`

	BlogMinWords int `toml:"blog_min_words"`
	BlogMaxWords int `toml:"blog_max_words"`
	BlogMinClips int `toml:"blog_min_clips"`
	BlogMaxClips int `toml:"blog_max_clips"`

	SEOTitleMaxChars int `toml:"seo_title_max_chars"`
	MetaMaxChars     int `toml:"meta_max_chars"`
	SlugMaxChars     int `toml:"slug_max_chars"`

	DuplicateTitleRatio float64 `toml:"duplicate_title_ratio"`
	Language            string  `toml:"language"`
}

func DefaultConfig() Config {
	return Config{
		TitleMaxChars:       100,
		DescriptionMaxChars: 5000,
		MaxHashtags:         12,
		BannedHashtags:      []string{"fyp", "foryou", "foryoupage", "viral", "trending", "explore", "follow", "like", "instagood", "tiktok"},
		FallbackHashtags:    []string{"clips", "highlights", "learning", "tips", "podcast"},
		ShortsTag:           defaultShortsTag,
		ShortsMaxDuration:   60,
		BlogMinWords:        800,
		BlogMaxWords:        1200,
		BlogMinClips:        5,
		BlogMaxClips:        8,
		SEOTitleMaxChars:    70,
		MetaMaxChars:        160,
		SlugMaxChars:        80,
		DuplicateTitleRatio: 0.85,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.TitleMaxChars <= 0 || c.TitleMaxChars > d.TitleMaxChars {
		c.TitleMaxChars = d.TitleMaxChars
	}
	if c.DescriptionMaxChars <= 0 || c.DescriptionMaxChars > d.DescriptionMaxChars {
		c.DescriptionMaxChars = d.DescriptionMaxChars
	}
	switch {
	case c.MaxHashtags == 0:
		c.MaxHashtags = d.MaxHashtags
	case c.MaxHashtags < minHashtags:
		c.MaxHashtags = minHashtags
	case c.MaxHashtags > hashtagsCeiling:
		c.MaxHashtags = hashtagsCeiling
	}
	if c.BannedHashtags == nil {
		c.BannedHashtags = d.BannedHashtags
	}
	if len(c.FallbackHashtags) == 0 {
		c.FallbackHashtags = d.FallbackHashtags
	}
	if c.ShortsTag == "" {
		c.ShortsTag = d.ShortsTag
	}
	if c.ShortsMaxDuration <= 0 {
		c.ShortsMaxDuration = d.ShortsMaxDuration
	}
	if c.BlogMaxWords <= 0 || c.BlogMinWords <= 0 || c.BlogMaxWords < c.BlogMinWords {
		c.BlogMinWords, c.BlogMaxWords = d.BlogMinWords, d.BlogMaxWords
	}
	if c.BlogMinClips <= 0 || c.BlogMaxClips < c.BlogMinClips {
		c.BlogMinClips, c.BlogMaxClips = d.BlogMinClips, d.BlogMaxClips
	}
	if c.SEOTitleMaxChars <= 0 || c.SEOTitleMaxChars > d.SEOTitleMaxChars {
		c.SEOTitleMaxChars = d.SEOTitleMaxChars
	}
	if c.MetaMaxChars <= 0 || c.MetaMaxChars > d.MetaMaxChars {
		c.MetaMaxChars = d.MetaMaxChars
	}
	if c.SlugMaxChars <= 0 || c.SlugMaxChars > d.SlugMaxChars {
		c.SlugMaxChars = d.SlugMaxChars
	}
	if c.DuplicateTitleRatio <= 0 || c.DuplicateTitleRatio > 1 {
		c.DuplicateTitleRatio = d.DuplicateTitleRatio
	}
	return c
}
