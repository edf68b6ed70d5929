package domain

import (
	"fmt"
	"strings"
)

type Document struct {
	ID      int64  `db:"id"`
	Type    string `db:"type"`
	Status  string `db:"status"`
	Content string `db:"content"`
}

// ImageReference is one <img> found in a document. Title and Alt are empty when absent.
type ImageReference struct {
	Src   string
	Title string
	Alt   string
}

var (
	DefaultPostTypes    = []string{"post", "page"}
	DefaultPostStatuses = []string{"publish"}
)

// DocumentQuery selects documents either by an explicit ID list, by an inclusive
// ID range, or (neither set) all documents of the given types and statuses.
type DocumentQuery struct {
	IDs      []int64
	FromID   int64
	ToID     int64
	Types    []string
	Statuses []string
}

func (q DocumentQuery) HasRange() bool {
	return q.FromID != 0 && q.ToID != 0
}

func (q DocumentQuery) Validate() error {
	if len(q.IDs) > 0 && (q.FromID != 0 || q.ToID != 0) {
		return fmt.Errorf("%w: either a CSV list of post IDs or a post ID range can be given, not both", ErrInvalidInvocation)
	}
	if (q.FromID != 0) != (q.ToID != 0) {
		return fmt.Errorf("%w: both post ID range ends are required", ErrInvalidInvocation)
	}
	if q.FromID > q.ToID {
		return fmt.Errorf("%w: post ID range start %d is after its end %d", ErrInvalidInvocation, q.FromID, q.ToID)
	}
	return nil
}

func (q DocumentQuery) WithDefaults() DocumentQuery {
	if len(q.Types) == 0 {
		q.Types = DefaultPostTypes
	}
	if len(q.Statuses) == 0 {
		q.Statuses = DefaultPostStatuses
	}
	return q
}

// RangeSuffix is appended to per-run log file names when an ID range is active.
func (q DocumentQuery) RangeSuffix() string {
	if !q.HasRange() {
		return ""
	}
	return fmt.Sprintf("%d-%d", q.FromID, q.ToID)
}

type FilterMode int

const (
	FilterExclude FilterMode = iota
	FilterIncludeOnly
)

func (m FilterMode) String() string {
	if m == FilterIncludeOnly {
		return "include-only"
	}
	return "exclude"
}

// HostFilter decides which image hosts a run may download from.
type HostFilter struct {
	Mode     FilterMode
	Patterns []string
}

func (f HostFilter) String() string {
	return f.Mode.String() + "[" + strings.Join(f.Patterns, ",") + "]"
}

type PathKind int

const (
	PathRemote PathKind = iota
	PathLocal
)

func (k PathKind) String() string {
	if k == PathLocal {
		return "local"
	}
	return "remote"
}

// ResolvedPath is where an image reference can actually be fetched from:
// a file on disk (PathLocal) or a fully qualified URL (PathRemote).
type ResolvedPath struct {
	Kind     PathKind
	Location string
}
