package blocks

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"post_image_downloader/internal/scanner"
)

// CanonicalURLer resolves an attachment id to the URL of its original file.
type CanonicalURLer interface {
	CanonicalURL(ctx context.Context, id int64) (string, error)
}

// ImageRewriter points image blocks at a different attachment.
type ImageRewriter struct {
	urls CanonicalURLer
}

func NewImageRewriter(urls CanonicalURLer) *ImageRewriter {
	return &ImageRewriter{urls: urls}
}

// UpdateImage swaps the attachment of an image block to newID/newSrc.
//
// Block srcs often point at a resized variant ("name-1024x439.png") and may
// carry a query string. Both are carried over onto newSrc, so a block showing
// "a-1024x439.png?v=2" of attachment "a.png" becomes "b-1024x439.png?v=2"
// when repointed to "b.png". The wp-image-{id} class follows the id.
func (r *ImageRewriter) UpdateImage(ctx context.Context, blockHTML string, newID int64, newSrc string) (string, error) {
	oldID, hasID := IntAttribute(blockHTML, "id")
	oldSrc, ok := scanner.FirstImgSrc(blockHTML)
	if !ok {
		return blockHTML, nil
	}

	updated, err := SetAttribute(blockHTML, "id", newID)
	if err != nil {
		return "", fmt.Errorf("set block id: %w", err)
	}

	modifier := ""
	if hasID {
		canonical, err := r.urls.CanonicalURL(ctx, oldID)
		if err != nil {
			return "", fmt.Errorf("canonical url of attachment %d: %w", oldID, err)
		}
		modifier = resolutionModifier(stem(stripQuery(oldSrc)), stem(stripQuery(canonical)))
	}

	composed := composeSrc(stripQuery(newSrc), modifier, queryString(oldSrc))
	updated = scanner.ReplaceSrc(updated, oldSrc, composed)

	if hasID {
		updated = replaceImageClass(updated, oldID, newID)
	}

	return updated, nil
}

var imageClass = regexp.MustCompile(`wp-image-(\d+)\b`)

// replaceImageClass renames the wp-image-{oldID} class to wp-image-{newID}.
func replaceImageClass(html string, oldID, newID int64) string {
	from := strconv.FormatInt(oldID, 10)
	to := "wp-image-" + strconv.FormatInt(newID, 10)
	return imageClass.ReplaceAllStringFunc(html, func(m string) string {
		if imageClass.FindStringSubmatch(m)[1] != from {
			return m
		}
		return to
	})
}

// resolutionModifier returns what the current file stem adds to the
// canonical one, e.g. "-1024x439" for "name-1024x439" over "name".
func resolutionModifier(current, canonical string) string {
	if canonical == "" || !strings.HasPrefix(current, canonical) {
		return ""
	}
	return strings.TrimPrefix(current, canonical)
}

func composeSrc(src, modifier, query string) string {
	dir, base := "", src
	if i := strings.LastIndex(src, "/"); i >= 0 {
		dir, base = src[:i+1], src[i+1:]
	}
	ext := path.Ext(base)
	composed := dir + strings.TrimSuffix(base, ext) + modifier + ext
	if query != "" {
		composed += "?" + query
	}
	return composed
}

func stem(src string) string {
	base := src
	if i := strings.LastIndex(src, "/"); i >= 0 {
		base = src[i+1:]
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

func stripQuery(src string) string {
	if i := strings.IndexAny(src, "?#"); i >= 0 {
		return src[:i]
	}
	return src
}

func queryString(src string) string {
	i := strings.Index(src, "?")
	if i < 0 {
		return ""
	}
	q := src[i+1:]
	if j := strings.Index(q, "#"); j >= 0 {
		q = q[:j]
	}
	return q
}
