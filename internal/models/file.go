package models

import "time"

// StoredFile describes a file uploaded through the files flyout. The content is stored separately.
type StoredFile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"contentType"`
	UploadedAt  time.Time `json:"uploadedAt"`
}
