package main

import (
	"errors"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"post_image_downloader/internal/domain"
)

func parseQuery(t *testing.T, args ...string) (domain.DocumentQuery, error) {
	t.Helper()
	var qf queryFlags
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	qf.register(fs)
	require.NoError(t, fs.Parse(args))
	return qf.query()
}

func TestQueryFlags_Defaults(t *testing.T) {
	q, err := parseQuery(t)

	require.NoError(t, err)
	assert.Equal(t, []string{"post", "page"}, q.Types)
	assert.Equal(t, []string{"publish"}, q.Statuses)
	assert.Empty(t, q.IDs)
	assert.False(t, q.HasRange())
}

func TestQueryFlags_IDs(t *testing.T) {
	q, err := parseQuery(t, "-post-ids-csv", "3, 5,8", "-post-types", "post")

	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5, 8}, q.IDs)
	assert.Equal(t, []string{"post"}, q.Types)
}

func TestQueryFlags_InvalidCombinations(t *testing.T) {
	cases := [][]string{
		{"-post-ids-csv", "1", "-post-id-from", "1", "-post-id-to", "2"},
		{"-post-id-from", "10"},
		{"-post-id-to", "10"},
		{"-post-ids-csv", "1,abc"},
	}
	for _, args := range cases {
		_, err := parseQuery(t, args...)
		assert.True(t, errors.Is(err, domain.ErrInvalidInvocation), "args %v", args)
	}
}

func TestHostFlags(t *testing.T) {
	f, err := (&hostFlags{excludeHosts: "*.a.com, b.com"}).filter()
	require.NoError(t, err)
	assert.Equal(t, domain.FilterExclude, f.Mode)
	assert.Equal(t, []string{"*.a.com", "b.com"}, f.Patterns)

	f, err = (&hostFlags{onlyHosts: "cdn.*"}).filter()
	require.NoError(t, err)
	assert.Equal(t, domain.FilterIncludeOnly, f.Mode)

	_, err = (&hostFlags{excludeHosts: "a", onlyHosts: "b"}).filter()
	assert.True(t, errors.Is(err, domain.ErrInvalidInvocation))
}
