// Package models defines the core data structures for instances, users and notes.
package models

import "time"

// Instance is one registry row: an isolated per-visitor workspace.
type Instance struct {
	// ID is the opaque instance identifier (canonical UUID text).
	ID string
	// CreatedAt is when the instance was first registered.
	CreatedAt time.Time
	// LastAccess is the most recent request resolved to this instance.
	LastAccess time.Time
}

// User represents an account that only exists inside its owning instance.
type User struct {
	// ID is the row identifier inside the instance partition.
	ID int64
	// Username is unique per instance, not globally.
	Username string
	// PasswordHash is the bcrypt hash of the user's password.
	PasswordHash string
	// InstanceID is the owning instance.
	InstanceID string
}

// Note is a text note or the record of an uploaded file.
type Note struct {
	ID      int64
	UserID  int64
	Content string
	// Filename is set for uploads; nil for plain text notes.
	Filename *string
	// DownloadLink is set for uploads; nil for plain text notes.
	DownloadLink *string
}

// NoteView is a note as returned by the listing endpoint. ID is nil for
// files that exist on disk without a matching note record.
type NoteView struct {
	ID           *int64 `json:"id"`
	Content      string `json:"content"`
	DownloadLink string `json:"download_link,omitempty"`
	Filename     string `json:"filename,omitempty"`
}
