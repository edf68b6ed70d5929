package domain

type Asset struct {
	ID       int64
	FilePath string
	URL      string
}

// DuplicateGroup holds media assets whose files share one content hash.
// Members keep scan order; the first member survives deduplication.
type DuplicateGroup struct {
	Hash    string
	Members []Asset
}

func (g DuplicateGroup) IsDuplicate() bool {
	return len(g.Members) > 1
}

func (g DuplicateGroup) Survivor() Asset {
	return g.Members[0]
}

func (g DuplicateGroup) Replaced() []Asset {
	if len(g.Members) < 2 {
		return nil
	}
	return g.Members[1:]
}

// Attachment is the media store's record of an imported file. File is
// relative to the uploads directory, e.g. "2021/10/name.png".
type Attachment struct {
	ID       int64  `db:"id"`
	ParentID int64  `db:"parent_id"`
	Title    string `db:"title"`
	MimeType string `db:"mime_type"`
	GUID     string `db:"guid"`
	File     string `db:"file"`
	Alt      string `db:"-"`
}

// ImportRequest describes one image to bring into the media store. ParentID
// is the document the attachment is created for.
type ImportRequest struct {
	Source   string
	ParentID int64
	Title    string
	Alt      string
}
