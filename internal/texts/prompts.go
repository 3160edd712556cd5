package texts

const clipSystemPrompt = `You are a social video editor writing copy for short vertical clips.
Reply with a single JSON object and nothing else.`

var clipUserPrompt = `Write publishing copy for a short clip cut from a longer video.

Rules:
1. "title": catchy, at most %d characters, no hashtags, no emojis.
2. "description": two or three sentences that summarize the clip and invite the viewer to watch the full video.
3. "hashtags": 5 to %d relevant topical tags without the '#' sign. Avoid generic tags such as fyp or viral.
4. Write in %s.

JSON structure:
{"title": "...", "description": "...", "hashtags": ["...", "..."]}

Clip duration: %.0f seconds
Clip transcript:
%s
`

const blogSystemPrompt = `You are a content writer turning video highlights into a long-form article.
Reply with a single JSON object and nothing else.`

var blogUserPrompt = `Write a blog post in Markdown based on the highlights below.

Rules:
1. Between %d and %d words. Use headings and short paragraphs.
2. Cover the highlights in order and connect them into one narrative.
3. Provide SEO fields: "slug" (lowercase ascii words joined by '-'), "title" (at most %d characters) and "metaDescription" (at most %d characters).
4. Write in %s.

JSON structure:
{"blog": "...", "seo": {"slug": "...", "title": "...", "metaDescription": "..."}}

Highlights:
%s
`
