// Package resolver decides where an image reference can be fetched from.
package resolver

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"post_image_downloader/internal/domain"
)

// Resolver turns an <img> src into a local file path or a fully qualified URL.
type Resolver struct {
	// LocalFolder, when set, is searched first for a file at the src path.
	LocalFolder string
	// DefaultHostAndSchema, e.g. "https://old-host.com", is prepended to relative srcs.
	DefaultHostAndSchema string
	// FileExists defaults to an os.Stat check.
	FileExists func(path string) bool
}

func New(localFolder, defaultHostAndSchema string) *Resolver {
	return &Resolver{
		LocalFolder:          strings.TrimRight(localFolder, "/"),
		DefaultHostAndSchema: strings.TrimRight(defaultHostAndSchema, "/"),
		FileExists:           fileExists,
	}
}

// Resolve returns the location to import src from. Local files always win
// over remote locations. A relative src without a configured default host
// fails with domain.ErrNoDefaultHost.
func (r *Resolver) Resolve(src string) (domain.ResolvedPath, error) {
	if r.LocalFolder != "" {
		candidate := r.LocalFolder + "/" + strings.TrimLeft(srcPath(src), "/")
		if r.exists(candidate) {
			return domain.ResolvedPath{Kind: domain.PathLocal, Location: candidate}, nil
		}
	}

	if IsAbsolute(src) {
		return domain.ResolvedPath{Kind: domain.PathRemote, Location: src}, nil
	}

	if r.DefaultHostAndSchema == "" {
		return domain.ResolvedPath{}, fmt.Errorf("could not download src %s: %w", src, domain.ErrNoDefaultHost)
	}

	sep := ""
	if !strings.HasPrefix(src, "/") {
		sep = "/"
	}
	return domain.ResolvedPath{Kind: domain.PathRemote, Location: r.DefaultHostAndSchema + sep + src}, nil
}

// IsAbsolute reports whether src is an http(s) URL.
func IsAbsolute(src string) bool {
	return strings.HasPrefix(strings.ToLower(src), "http")
}

func (r *Resolver) exists(path string) bool {
	if r.FileExists == nil {
		return fileExists(path)
	}
	return r.FileExists(path)
}

// srcPath strips the scheme, host, query string and fragment from src.
func srcPath(src string) string {
	u, err := url.Parse(src)
	if err != nil {
		if i := strings.IndexAny(src, "?#"); i >= 0 {
			return src[:i]
		}
		return src
	}
	return u.Path
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
