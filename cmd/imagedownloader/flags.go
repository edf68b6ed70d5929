package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"post_image_downloader/internal/domain"
)

// queryFlags are the document selection flags shared by all subcommands.
type queryFlags struct {
	postTypes    string
	postStatuses string
	postIDsCSV   string
	postIDFrom   int64
	postIDTo     int64
}

func (q *queryFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&q.postTypes, "post-types", "post,page", "CSV of post types to process")
	fs.StringVar(&q.postStatuses, "post-statuses", "publish", "CSV of post statuses to process")
	fs.StringVar(&q.postIDsCSV, "post-ids-csv", "", "CSV of post IDs to process")
	fs.Int64Var(&q.postIDFrom, "post-id-from", 0, "first post ID of the range to process")
	fs.Int64Var(&q.postIDTo, "post-id-to", 0, "last post ID of the range to process")
}

func (q *queryFlags) query() (domain.DocumentQuery, error) {
	ids, err := parseIDs(q.postIDsCSV)
	if err != nil {
		return domain.DocumentQuery{}, err
	}

	query := domain.DocumentQuery{
		IDs:      ids,
		FromID:   q.postIDFrom,
		ToID:     q.postIDTo,
		Types:    splitCSV(q.postTypes),
		Statuses: splitCSV(q.postStatuses),
	}
	if err := query.Validate(); err != nil {
		return domain.DocumentQuery{}, err
	}
	return query, nil
}

type hostFlags struct {
	excludeHosts string
	onlyHosts    string
}

func (h *hostFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&h.excludeHosts, "exclude-hosts", "", "CSV of host patterns not to download from, e.g. *.example.com")
	fs.StringVar(&h.onlyHosts, "only-download-from-hosts", "", "CSV of host patterns to download from exclusively")
}

func (h *hostFlags) filter() (domain.HostFilter, error) {
	exclude := splitCSV(h.excludeHosts)
	only := splitCSV(h.onlyHosts)

	if len(exclude) > 0 && len(only) > 0 {
		return domain.HostFilter{}, fmt.Errorf("%w: -only-download-from-hosts cannot be combined with -exclude-hosts", domain.ErrInvalidInvocation)
	}
	if len(only) > 0 {
		return domain.HostFilter{Mode: domain.FilterIncludeOnly, Patterns: only}, nil
	}
	return domain.HostFilter{Mode: domain.FilterExclude, Patterns: exclude}, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIDs(csv string) ([]int64, error) {
	var ids []int64
	for _, part := range splitCSV(csv) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: invalid post ID %q", domain.ErrInvalidInvocation, part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
