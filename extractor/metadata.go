package extractor

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field caps applied while parsing extractor output. Oversized values are
// truncated rather than rejected; the tool's output is not trusted.
const (
	maxTitleLen       = 1000
	maxDescriptionLen = 5000
	maxListElems      = 50
	maxDurationSecs   = 86400
	maxCount          = int64(1) << 40
)

// VideoMetadata is the typed record distilled from one extractor output line.
// Every optional field is parsed defensively; a bad value clears the field
// instead of failing the whole record.
type VideoMetadata struct {
	VideoID       string
	Title         string
	Description   string
	Duration      int // seconds
	UploadDate    time.Time
	ViewCount     int64
	LikeCount     int64
	CommentCount  int64
	Tags          []string
	Categories    []string
	ThumbnailURL  string
	ChannelID     string
	IsLive        bool
	AgeRestricted bool

	// AdditionalInfo keeps unrecognized scalar fields for diagnostics.
	AdditionalInfo map[string]any
}

// consumedKeys are record fields mapped into typed members; everything else
// scalar lands in AdditionalInfo.
var consumedKeys = map[string]bool{
	"id": true, "video_id": true, "title": true, "description": true,
	"duration": true, "upload_date": true, "timestamp": true,
	"view_count": true, "like_count": true, "comment_count": true,
	"tags": true, "categories": true, "thumbnails": true, "thumbnail": true,
	"channel_id": true, "uploader_id": true, "playlist_channel_id": true,
	"channel_url": true, "uploader_url": true,
	"is_live": true, "age_restricted": true, "age_limit": true, "content_rating": true,
}

// parseVideoMetadata converts one decoded JSON record into a VideoMetadata.
// Only video id and title are required.
func parseVideoMetadata(raw map[string]any) (*VideoMetadata, error) {
	id := stringField(raw, "id")
	if id == "" {
		id = stringField(raw, "video_id")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("record has no video id")
	}
	title := strings.TrimSpace(stringField(raw, "title"))
	if title == "" {
		return nil, fmt.Errorf("record %s has no title", id)
	}

	m := &VideoMetadata{
		VideoID:     id,
		Title:       truncate(title, maxTitleLen),
		Description: truncate(stringField(raw, "description"), maxDescriptionLen),
	}

	if d, ok := parseDuration(raw["duration"]); ok {
		m.Duration = d
	}
	if t, ok := parseUploadDate(raw); ok {
		m.UploadDate = t
	}
	m.ViewCount = parseCount(raw["view_count"])
	m.LikeCount = parseCount(raw["like_count"])
	m.CommentCount = parseCount(raw["comment_count"])
	m.Tags = parseStringList(raw["tags"])
	m.Categories = parseStringList(raw["categories"])
	m.ThumbnailURL = pickThumbnail(raw)
	m.ChannelID = pickChannelID(raw)
	m.IsLive = truthy(raw["is_live"])
	m.AgeRestricted = parseAgeRestricted(raw)

	for k, v := range raw {
		if consumedKeys[k] {
			continue
		}
		switch v.(type) {
		case string, float64, bool:
			if m.AdditionalInfo == nil {
				m.AdditionalInfo = make(map[string]any)
			}
			m.AdditionalInfo[k] = v
		}
	}
	return m, nil
}

func stringField(raw map[string]any, key string) string {
	if s, ok := raw[key].(string); ok {
		return s
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// parseDuration accepts integers, floats (truncated) and clock strings
// ("HH:MM:SS" or "MM:SS"). Negative values and anything over 24h are rejected.
func parseDuration(v any) (int, bool) {
	var secs int
	switch t := v.(type) {
	case float64:
		secs = int(t)
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		if strings.Contains(s, ":") {
			parts := strings.Split(s, ":")
			if len(parts) < 2 || len(parts) > 3 {
				return 0, false
			}
			total := 0
			for _, p := range parts {
				n, err := strconv.Atoi(p)
				if err != nil || n < 0 {
					return 0, false
				}
				total = total*60 + n
			}
			secs = total
		} else {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return 0, false
			}
			secs = int(f)
		}
	default:
		return 0, false
	}
	if secs < 0 || secs > maxDurationSecs {
		return 0, false
	}
	return secs, true
}

// parseUploadDate accepts yt-dlp's YYYYMMDD upload_date, an epoch-seconds
// timestamp, or an ISO-8601 string with Z.
func parseUploadDate(raw map[string]any) (time.Time, bool) {
	if s := stringField(raw, "upload_date"); s != "" {
		if t, err := time.Parse("20060102", s); err == nil {
			return t.UTC(), true
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC(), true
		}
		if epoch, err := strconv.ParseInt(s, 10, 64); err == nil && epoch > 0 {
			return time.Unix(epoch, 0).UTC(), true
		}
	}
	if f, ok := raw["timestamp"].(float64); ok && f > 0 {
		return time.Unix(int64(f), 0).UTC(), true
	}
	return time.Time{}, false
}

// parseCount accepts numbers and strings with thousands separators, clamping
// the result to [0, maxCount].
func parseCount(v any) int64 {
	var n int64
	switch t := v.(type) {
	case float64:
		n = int64(t)
	case string:
		s := strings.NewReplacer(",", "", "_", "", " ", "").Replace(strings.TrimSpace(t))
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0
		}
		n = parsed
	default:
		return 0
	}
	if n < 0 {
		return 0
	}
	if n > maxCount {
		return maxCount
	}
	return n
}

// parseStringList keeps only string elements, up to maxListElems.
func parseStringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, it := range items {
		s, ok := it.(string)
		if !ok || s == "" {
			continue
		}
		out = append(out, s)
		if len(out) >= maxListElems {
			break
		}
	}
	return out
}

// pickThumbnail chooses the thumbnail with the largest width*height, falling
// back to the last entry, then to the flat "thumbnail" field.
func pickThumbnail(raw map[string]any) string {
	thumbs, ok := raw["thumbnails"].([]any)
	if ok && len(thumbs) > 0 {
		bestURL := ""
		bestArea := -1
		lastURL := ""
		for _, t := range thumbs {
			tm, ok := t.(map[string]any)
			if !ok {
				continue
			}
			u, _ := tm["url"].(string)
			if u == "" {
				continue
			}
			lastURL = u
			w, wok := tm["width"].(float64)
			h, hok := tm["height"].(float64)
			if wok && hok {
				if area := int(w * h); area > bestArea {
					bestArea = area
					bestURL = u
				}
			}
		}
		if bestURL != "" {
			return bestURL
		}
		if lastURL != "" {
			return lastURL
		}
	}
	return stringField(raw, "thumbnail")
}

// pickChannelID coalesces the channel-identifying fields in priority order,
// then falls back to deriving one from a channel or uploader URL.
func pickChannelID(raw map[string]any) string {
	for _, key := range []string{"channel_id", "uploader_id", "playlist_channel_id"} {
		if s := strings.TrimSpace(stringField(raw, key)); s != "" {
			return s
		}
	}
	for _, key := range []string{"channel_url", "uploader_url"} {
		if id := channelIDFromURL(stringField(raw, key)); id != "" {
			return id
		}
	}
	return ""
}

// truthy interprets bool, numeric and string truthiness.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1":
			return true
		}
	}
	return false
}

// parseAgeRestricted reads the explicit flag, the numeric age_limit, and
// textual content ratings.
func parseAgeRestricted(raw map[string]any) bool {
	if truthy(raw["age_restricted"]) {
		return true
	}
	if limit, ok := raw["age_limit"].(float64); ok && limit > 0 {
		return true
	}
	if rating := strings.ToLower(stringField(raw, "content_rating")); rating != "" {
		for _, marker := range []string{"mature", "explicit", "18"} {
			if strings.Contains(rating, marker) {
				return true
			}
		}
	}
	return false
}
