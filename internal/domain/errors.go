package domain

import "errors"

var (
	// ErrNoDefaultHost means a relative image reference was found but no
	// default host+schema was configured to download it from.
	ErrNoDefaultHost = errors.New("no default image host and schema provided")
	// ErrDownloadFailed means the remote image could not be fetched.
	ErrDownloadFailed = errors.New("download failed")
	// ErrImportFailed means the media store rejected an already fetched file.
	ErrImportFailed = errors.New("import failed")
	// ErrInvalidInvocation marks option combinations that abort a run before processing.
	ErrInvalidInvocation = errors.New("invalid invocation")
)
