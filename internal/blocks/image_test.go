package blocks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticURLs map[int64]string

func (s staticURLs) CanonicalURL(_ context.Context, id int64) (string, error) {
	u, ok := s[id]
	if !ok {
		return "", errors.New("attachment not found")
	}
	return u, nil
}

const singleImageBlock = `<!-- wp:image {"id":15,"sizeSlug":"large","linkDestination":"none"} -->
<figure class="wp-block-image size-large"><img src="https://menu-live.test/wp-content/uploads/2021/10/WP-art-111111-1024x439.png?query=param" alt="" class="wp-image-15"/></figure>
<!-- /wp:image -->`

func TestUpdateImage_KeepsResolutionAndQuery(t *testing.T) {
	rewriter := NewImageRewriter(staticURLs{
		15: "https://menu-live.test/wp-content/uploads/2021/10/WP-art-111111.png",
	})

	got, err := rewriter.UpdateImage(context.Background(), singleImageBlock, 123, "https://menu-live.test/wp-content/uploads/2021/10/WP-art-1.png")

	require.NoError(t, err)
	assert.Equal(t, `<!-- wp:image {"id":123,"sizeSlug":"large","linkDestination":"none"} -->
<figure class="wp-block-image size-large"><img src="https://menu-live.test/wp-content/uploads/2021/10/WP-art-1-1024x439.png?query=param" alt="" class="wp-image-123"/></figure>
<!-- /wp:image -->`, got)
}

func TestUpdateImage_CanonicalSrc(t *testing.T) {
	block := `<!-- wp:image {"id":4} --><figure><img src="https://h/u/a.jpg" class="wp-image-4"/></figure><!-- /wp:image -->`
	rewriter := NewImageRewriter(staticURLs{4: "https://h/u/a.jpg"})

	got, err := rewriter.UpdateImage(context.Background(), block, 9, "https://h/u/b.jpg")

	require.NoError(t, err)
	assert.Equal(t, `<!-- wp:image {"id":9} --><figure><img src="https://h/u/b.jpg" class="wp-image-9"/></figure><!-- /wp:image -->`, got)
}

func TestUpdateImage_ClassTokenBoundary(t *testing.T) {
	block := `<!-- wp:image {"id":4} --><figure class="wp-image-45"><img src="https://h/u/a.jpg" class="wp-image-4"/></figure><!-- /wp:image -->`
	rewriter := NewImageRewriter(staticURLs{4: "https://h/u/a.jpg"})

	got, err := rewriter.UpdateImage(context.Background(), block, 9, "https://h/u/b.jpg")

	require.NoError(t, err)
	assert.Contains(t, got, `class="wp-image-45"`)
	assert.Contains(t, got, `class="wp-image-9"`)
}

func TestUpdateImage_NoSrcIsNoOp(t *testing.T) {
	block := `<!-- wp:image {"id":4} --><figure></figure><!-- /wp:image -->`
	rewriter := NewImageRewriter(staticURLs{})

	got, err := rewriter.UpdateImage(context.Background(), block, 9, "https://h/u/b.jpg")

	require.NoError(t, err)
	assert.Equal(t, block, got)
}

func TestUpdateImage_UnknownOldAttachment(t *testing.T) {
	rewriter := NewImageRewriter(staticURLs{})

	_, err := rewriter.UpdateImage(context.Background(), singleImageBlock, 123, "https://h/u/b.png")

	assert.Error(t, err)
}

func TestComposeSrc(t *testing.T) {
	assert.Equal(t, "https://h/u/b-300x200.png?v=1", composeSrc("https://h/u/b.png", "-300x200", "v=1"))
	assert.Equal(t, "https://h/u/b", composeSrc("https://h/u/b", "", ""))
	assert.Equal(t, "b-1.jpg", composeSrc("b.jpg", "-1", ""))
}

func TestResolutionModifier(t *testing.T) {
	assert.Equal(t, "-1024x439", resolutionModifier("name-1024x439", "name"))
	assert.Equal(t, "", resolutionModifier("name", "name"))
	assert.Equal(t, "", resolutionModifier("other-1024x439", "name"))
}

func TestReplaceImageClass(t *testing.T) {
	html := `<img class="wp-image-4 wp-image-40"/><img class="size-large wp-image-4"/>`

	assert.Equal(t, `<img class="wp-image-7 wp-image-40"/><img class="size-large wp-image-7"/>`, replaceImageClass(html, 4, 7))
	assert.Equal(t, html, replaceImageClass(html, 5, 7))
}
