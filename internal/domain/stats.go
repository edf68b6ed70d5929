package domain

import "time"

// ImportStats holds statistics about an image import run.
type ImportStats struct {
	Documents        int
	DocumentsUpdated int
	ImagesFound      int
	Imported         int
	Skipped          int
	Failed           int
	Published        int
	Duration         time.Duration
}

// DedupeStats holds statistics about a deduplication run.
type DedupeStats struct {
	AssetsScanned    int
	MissingFiles     int
	Groups           int
	Replaced         int
	DocumentsUpdated int
	FeaturedUpdated  int
	DeletedIDs       []int64
	Errors           int
	Duration         time.Duration
}

// RelativeHostBucket collects image srcs without a host.
const RelativeHostBucket = "relative URL paths"

type HostUsage struct {
	Host        string
	DocumentIDs []int64
}

// HostReport lists image hosts in first-seen order.
type HostReport struct {
	Documents int
	Hosts     []HostUsage
}

func (r *HostReport) Add(host string, docID int64) {
	for i := range r.Hosts {
		if r.Hosts[i].Host != host {
			continue
		}
		for _, id := range r.Hosts[i].DocumentIDs {
			if id == docID {
				return
			}
		}
		r.Hosts[i].DocumentIDs = append(r.Hosts[i].DocumentIDs, docID)
		return
	}
	r.Hosts = append(r.Hosts, HostUsage{Host: host, DocumentIDs: []int64{docID}})
}

// AsMap is a convenience view of the report keyed by host.
func (r *HostReport) AsMap() map[string][]int64 {
	m := make(map[string][]int64, len(r.Hosts))
	for _, h := range r.Hosts {
		m[h.Host] = h.DocumentIDs
	}
	return m
}
