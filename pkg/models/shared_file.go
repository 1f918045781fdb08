package models

import "time"

// SharedFile is a blob published by the share_file system tool and served by token.
type SharedFile struct {
	Token          string    `json:"token"`
	OrganisationID int64     `json:"organisation_id"`
	FileName       string    `json:"file_name"`
	ContentType    string    `json:"content_type"`
	Content        []byte    `json:"-"`
	ExpiresAt      time.Time `json:"expires_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// Expired reports whether the file may no longer be downloaded.
func (f *SharedFile) Expired(now time.Time) bool {
	return !now.Before(f.ExpiresAt)
}
