package types

// SceneCandidate is one clip window proposed by scene segmentation.
type SceneCandidate struct {
	ID       string   `json:"id"`
	Start    float64  `json:"start"`
	End      float64  `json:"end"`
	Duration float64  `json:"duration"`
	Score    float64  `json:"score"`
	Reasons  []string `json:"reasons"`
	Excerpt  string   `json:"excerpt"`
	Forced   bool     `json:"forced,omitempty"`
}

type ScenesResult struct {
	Duration   float64          `json:"duration"`
	Candidates []SceneCandidate `json:"candidates"`
	Fallback   bool             `json:"fallback,omitempty"`
}

type CPS struct {
	Avg float64 `json:"avg"`
	P95 float64 `json:"p95"`
}

// RankedItem extends a candidate with the ranking signals. FinalScore is
// min-max normalized over the selected set.
type RankedItem struct {
	SceneCandidate
	Hook       float64 `json:"hook"`
	CPS        CPS     `json:"cps"`
	BaseScore  float64 `json:"baseScore"`
	Novelty    float64 `json:"novelty"`
	MaxSim     float64 `json:"maxSim"`
	FinalScore float64 `json:"finalScore"`
	Relaxed    bool    `json:"relaxed,omitempty"`
}

type RankResult struct {
	Items     []RankedItem `json:"items"`
	Evaluated int          `json:"evaluated"`
	Filtered  int          `json:"filtered"`
}

type RenderedClip struct {
	ClipID       string  `json:"clipId"`
	VideoKey     string  `json:"videoKey"`
	ThumbnailKey string  `json:"thumbnailKey"`
	Duration     float64 `json:"duration"`
}

type ClipFailure struct {
	ClipID string `json:"clipId"`
	Error  string `json:"error"`
}

type RenderResult struct {
	ClipsGenerated int            `json:"clipsGenerated"`
	Clips          []RenderedClip `json:"clips"`
	Failed         []ClipFailure  `json:"failed,omitempty"`
	Skipped        bool           `json:"skipped,omitempty"`
}

type TextBundle struct {
	ClipID      string   `json:"clipId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Hashtags    []string `json:"hashtags"`
}

type SEO struct {
	Slug            string `json:"slug"`
	Title           string `json:"title"`
	MetaDescription string `json:"metaDescription"`
}

type TextsResult struct {
	Bundles   []TextBundle `json:"bundles,omitempty"`
	Keys      []string     `json:"keys"`
	BlogWords int          `json:"blogWords,omitempty"`
	Reused    bool         `json:"reused,omitempty"`
}
