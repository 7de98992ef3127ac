package onedrive

import "errors"

var (
	// ErrAuth is returned when obtaining or refreshing a token fails.
	ErrAuth = errors.New("onedrive authentication failed")
	// ErrNoTokens is returned when no tokens are stored and the device-code
	// flow has not been completed.
	ErrNoTokens = errors.New("onedrive tokens not found, run the device-code flow")
	// ErrUpload is returned when Graph rejects an upload.
	ErrUpload = errors.New("onedrive upload failed")
)
