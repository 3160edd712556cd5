package objectstore

import (
	"path"
	"strings"

	"clipfactory/internal/types"
)

// ProjectsPrefix is the root of every pipeline's artifacts. Each stage owns
// its own sub-namespace below projects/<rootId>/ and only reads the others.
const ProjectsPrefix = "projects"

func RootPrefix(rootID string) string {
	return path.Join(ProjectsPrefix, rootID) + "/"
}

func key(rootID string, parts ...string) string {
	return path.Join(append([]string{ProjectsPrefix, rootID}, parts...)...)
}

func SourceKey(rootID string) string     { return key(rootID, "source.mp4") }
func AudioKey(rootID string) string      { return key(rootID, "media", "audio.wav") }
func ProbeKey(rootID string) string      { return key(rootID, "media", "probe.json") }
func TranscriptKey(rootID string) string { return key(rootID, "transcribe", "transcript.json") }
func SRTKey(rootID string) string        { return key(rootID, "transcribe", "segments.srt") }
func VTTKey(rootID string) string        { return key(rootID, "transcribe", "segments.vtt") }
func ScenesKey(rootID string) string     { return key(rootID, "scenes", "scenes.json") }
func RankKey(rootID string) string       { return key(rootID, "rank", "rank.json") }

func ClipsPrefix(rootID string) string { return key(rootID, "clips") + "/" }

func ClipVideoKey(rootID, clipID string) string {
	return key(rootID, "clips", clipID+".mp4")
}

func ClipThumbnailKey(rootID, clipID string) string {
	return key(rootID, "clips", clipID+".jpg")
}

func TitleKey(rootID, clipID string) string {
	return key(rootID, "texts", clipID, "title.txt")
}

func DescriptionKey(rootID, clipID string) string {
	return key(rootID, "texts", clipID, "description.md")
}

func HashtagsKey(rootID, clipID string) string {
	return key(rootID, "texts", clipID, "hashtags.txt")
}

func BlogKey(rootID string) string { return key(rootID, "texts", "blog.md") }
func SEOKey(rootID string) string  { return key(rootID, "texts", "seo.json") }

// IdempotencyMarkerKey is written last by the texts stage.
func IdempotencyMarkerKey(rootID, idempotencyKey string) string {
	return key(rootID, "texts", "_idem", sanitizeSegment(idempotencyKey)+".txt")
}

// CompletionKey names the artifact whose presence proves stage finished for
// rootID. Render has no single artifact; callers list ClipsPrefix instead.
func CompletionKey(stage types.Stage, rootID string) (string, bool) {
	switch stage {
	case types.StageIngest:
		return AudioKey(rootID), true
	case types.StageTranscribe:
		return TranscriptKey(rootID), true
	case types.StageScenes:
		return ScenesKey(rootID), true
	case types.StageRank:
		return RankKey(rootID), true
	case types.StageTexts:
		return SEOKey(rootID), true
	default:
		return "", false
	}
}

// IsClipVideo reports whether key is a rendered clip under clips/.
func IsClipVideo(key string) bool {
	return strings.Contains(key, "/clips/") && strings.HasSuffix(key, ".mp4")
}

// ClipIDFromKey extracts the clip id from a clips/<id>.mp4 key.
func ClipIDFromKey(key string) string {
	return strings.TrimSuffix(path.Base(key), path.Ext(key))
}

func sanitizeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "_"
	}
	return out
}
