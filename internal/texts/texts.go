// Package texts generates per-clip publishing copy and a job-level blog post
// with SEO fields, enforcing hard length limits on everything the model
// returns.
package texts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"clipfactory/internal/objectstore"
	"clipfactory/internal/types"
	"clipfactory/log"
	apperrors "clipfactory/pkg/errors"
	"clipfactory/pkg/util"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

type Generator struct {
	cfg   Config
	llm   types.ChatCompleter
	store types.ObjectStore
}

func NewGenerator(cfg Config, llm types.ChatCompleter, store types.ObjectStore) *Generator {
	return &Generator{cfg: cfg.normalized(), llm: llm, store: store}
}

func (g *Generator) Config() Config { return g.cfg }

type Request struct {
	RootID         string
	IdempotencyKey string
	Items          []types.RankedItem
	Limiter        types.Limiter
	Progress       types.ProgressReporter
}

type clipCopy struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Hashtags    []string `json:"hashtags"`
}

type blogCopy struct {
	Blog string    `json:"blog"`
	SEO  types.SEO `json:"seo"`
}

// Generate writes title, description and hashtags for every item plus the
// blog and SEO artifacts. With an idempotency key whose marker already
// exists it returns the recorded keys without calling the model.
func (g *Generator) Generate(ctx context.Context, req Request) (*types.TextsResult, error) {
	if req.IdempotencyKey != "" {
		if keys, ok, err := g.reuse(ctx, req.RootID, req.IdempotencyKey); err != nil {
			return nil, err
		} else if ok {
			log.GetLogger().Info("texts: idempotency marker found, reusing artifacts",
				zap.String("root_id", req.RootID), zap.String("key", req.IdempotencyKey))
			return &types.TextsResult{Keys: keys, Reused: true}, nil
		}
	}
	if len(req.Items) == 0 {
		return nil, apperrors.ErrUpstreamRankDataMissing
	}

	bundles := make([]types.TextBundle, 0, len(req.Items))
	for i, item := range req.Items {
		bundle, err := g.clipCopy(ctx, req.Limiter, item)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, bundle)
		report(req.Progress, 10+70*(i+1)/len(req.Items), fmt.Sprintf("copy for %s", item.ID))
	}
	titles := MarkDuplicateTitles(lo.Map(bundles, func(b types.TextBundle, _ int) string { return b.Title }), g.cfg.DuplicateTitleRatio, g.cfg.TitleMaxChars)
	for i := range bundles {
		bundles[i].Title = titles[i]
	}

	var keys []string
	for _, b := range bundles {
		written, err := g.writeBundle(ctx, req.RootID, b)
		if err != nil {
			return nil, err
		}
		keys = append(keys, written...)
	}

	blog, err := g.blog(ctx, req.Limiter, req.Items, bundles)
	if err != nil {
		return nil, err
	}
	report(req.Progress, 90, "blog generated")
	blogWords := util.CountWords(blog.Blog)
	if blogWords < g.cfg.BlogMinWords {
		log.GetLogger().Warn("texts: blog shorter than target",
			zap.String("root_id", req.RootID), zap.Int("words", blogWords), zap.Int("min", g.cfg.BlogMinWords))
	}
	if err := g.store.Put(ctx, objectstore.BlogKey(req.RootID), []byte(blog.Blog)); err != nil {
		return nil, fmt.Errorf("texts write blog: %w", err)
	}
	seoJSON, err := json.MarshalIndent(blog.SEO, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("texts marshal seo: %w", err)
	}
	// seo.json is the completion artifact, so it is written after everything else.
	if err := g.store.Put(ctx, objectstore.SEOKey(req.RootID), seoJSON); err != nil {
		return nil, fmt.Errorf("texts write seo: %w", err)
	}
	keys = append(keys, objectstore.BlogKey(req.RootID), objectstore.SEOKey(req.RootID))

	if req.IdempotencyKey != "" {
		marker := objectstore.IdempotencyMarkerKey(req.RootID, req.IdempotencyKey)
		if err := g.store.Put(ctx, marker, []byte(strings.Join(keys, "\n"))); err != nil {
			return nil, fmt.Errorf("texts write idempotency marker: %w", err)
		}
	}

	log.GetLogger().Info("texts: generation complete",
		zap.String("root_id", req.RootID), zap.Int("clips", len(bundles)), zap.Int("blog_words", blogWords))
	return &types.TextsResult{Bundles: bundles, Keys: keys, BlogWords: blogWords}, nil
}

func (g *Generator) reuse(ctx context.Context, rootID, key string) ([]string, bool, error) {
	marker := objectstore.IdempotencyMarkerKey(rootID, key)
	exists, err := g.store.Exists(ctx, marker)
	if err != nil || !exists {
		return nil, false, err
	}
	data, err := g.store.Get(ctx, marker)
	if err != nil {
		return nil, false, err
	}
	keys := lo.Filter(strings.Split(string(data), "\n"), func(k string, _ int) bool { return strings.TrimSpace(k) != "" })
	return keys, true, nil
}

func (g *Generator) clipCopy(ctx context.Context, limiter types.Limiter, item types.RankedItem) (types.TextBundle, error) {
	if err := wait(ctx, limiter); err != nil {
		return types.TextBundle{}, err
	}
	prompt := fmt.Sprintf(clipUserPrompt, g.cfg.TitleMaxChars, g.cfg.MaxHashtags, g.language(), item.Duration, item.Excerpt)
	raw, err := g.llm.CompleteJSON(ctx, clipSystemPrompt, prompt)
	if err != nil {
		return types.TextBundle{}, apperrors.Wrap(apperrors.CodeGenerateFailed, "clip copy generation failed", err)
	}
	var out clipCopy
	if err := json.Unmarshal([]byte(util.ExtractJsonFromText(raw)), &out); err != nil {
		log.GetLogger().Warn("texts: unparseable clip copy, using excerpt",
			zap.String("clip_id", item.ID), zap.String("response", util.TruncateRunes(raw, 200)), zap.Error(err))
		out = clipCopy{}
	}
	if strings.TrimSpace(out.Title) == "" {
		out.Title = item.Excerpt
	}
	if strings.TrimSpace(out.Description) == "" {
		out.Description = item.Excerpt
	}
	return types.TextBundle{
		ClipID:      item.ID,
		Title:       util.TruncateAtWord(out.Title, g.cfg.TitleMaxChars),
		Description: util.TruncateRunes(strings.TrimSpace(out.Description), g.cfg.DescriptionMaxChars),
		Hashtags:    NormalizeHashtags(out.Hashtags, g.cfg, item.Duration),
	}, nil
}

func (g *Generator) writeBundle(ctx context.Context, rootID string, b types.TextBundle) ([]string, error) {
	tags := lo.Map(b.Hashtags, func(t string, _ int) string { return "#" + t })
	files := []struct {
		key  string
		body string
	}{
		{objectstore.TitleKey(rootID, b.ClipID), b.Title},
		{objectstore.DescriptionKey(rootID, b.ClipID), b.Description},
		{objectstore.HashtagsKey(rootID, b.ClipID), strings.Join(tags, " ")},
	}
	keys := make([]string, 0, len(files))
	for _, f := range files {
		if err := g.store.Put(ctx, f.key, []byte(f.body)); err != nil {
			return nil, fmt.Errorf("texts write %s: %w", f.key, err)
		}
		keys = append(keys, f.key)
	}
	return keys, nil
}

// blog asks for the long-form post from the top ranked excerpts and clamps
// the result to the word budget and SEO limits.
func (g *Generator) blog(ctx context.Context, limiter types.Limiter, items []types.RankedItem, bundles []types.TextBundle) (blogCopy, error) {
	top := items
	if len(top) > g.cfg.BlogMaxClips {
		top = top[:g.cfg.BlogMaxClips]
	}
	var highlights strings.Builder
	for i, item := range top {
		fmt.Fprintf(&highlights, "%d. %s\n%s\n\n", i+1, bundles[i].Title, item.Excerpt)
	}
	if err := wait(ctx, limiter); err != nil {
		return blogCopy{}, err
	}
	prompt := fmt.Sprintf(blogUserPrompt, g.cfg.BlogMinWords, g.cfg.BlogMaxWords, g.cfg.SEOTitleMaxChars, g.cfg.MetaMaxChars, g.language(), highlights.String())
	raw, err := g.llm.CompleteJSON(ctx, blogSystemPrompt, prompt)
	if err != nil {
		return blogCopy{}, apperrors.Wrap(apperrors.CodeGenerateFailed, "blog generation failed", err)
	}
	var out blogCopy
	if err := json.Unmarshal([]byte(util.ExtractJsonFromText(raw)), &out); err != nil {
		return blogCopy{}, apperrors.Wrap(apperrors.CodeGenerateFailed, "blog response is not valid JSON", err)
	}

	out.Blog = SoftTruncateWords(out.Blog, g.cfg.BlogMaxWords)
	if strings.TrimSpace(out.SEO.Title) == "" {
		out.SEO.Title = bundles[0].Title
	}
	out.SEO.Title = util.TruncateAtWord(out.SEO.Title, g.cfg.SEOTitleMaxChars)
	out.SEO.MetaDescription = util.TruncateAtWord(out.SEO.MetaDescription, g.cfg.MetaMaxChars)
	slug := Slugify(out.SEO.Slug, g.cfg.SlugMaxChars)
	if slug == "" {
		slug = Slugify(out.SEO.Title, g.cfg.SlugMaxChars)
	}
	out.SEO.Slug = slug
	return out, nil
}

func (g *Generator) language() string {
	if g.cfg.Language == "" {
		return "the language of the transcript"
	}
	return g.cfg.Language
}

func wait(ctx context.Context, limiter types.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

func report(p types.ProgressReporter, pct int, msg string) {
	if p != nil {
		p.Report(pct, msg)
	}
}
