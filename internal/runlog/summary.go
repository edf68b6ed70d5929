package runlog

import "fmt"

// Notice is one line of the end-of-run summary.
type Notice struct {
	Channel Channel
	Path    string
	Message string
}

// Summary lists the channels that received lines during this run, with
// what the operator should do about each.
func (s *Sink) Summary(defaultHostGiven bool) []Notice {
	var notices []Notice
	add := func(ch Channel, format string, args ...any) {
		if s.Count(ch) == 0 {
			return
		}
		notices = append(notices, Notice{Channel: ch, Path: s.Path(ch), Message: fmt.Sprintf(format, args...)})
	}

	add(Download, "For a full list of downloaded images, see %s.", s.Path(Download))
	add(DownloadFailed, "Some images could not be downloaded. See %s for a full list.", s.Path(DownloadFailed))
	add(ImportFailed, "Some images could not be imported into the Media Library. See %s for a full list.", s.Path(ImportFailed))
	if defaultHostGiven {
		add(MissingDefaultHost, "Some non-fully-qualified image URLs could not be downloaded. See %s for a full list.", s.Path(MissingDefaultHost))
	} else {
		add(MissingDefaultHost, "Some non-fully-qualified image URLs could not be downloaded, probably because -default-image-host-and-schema was not given. See %s for a full list; set it and rerun.", s.Path(MissingDefaultHost))
	}
	add(OtherError, "Some unknown errors occurred. See %s for a full list.", s.Path(OtherError))
	add(Deduplication, "Deduplication details are in %s.", s.Path(Deduplication))

	return notices
}
