package models

import "time"

// Attachment describes a document uploaded into a conversation. The bytes
// live in object storage under StorageKey.
type Attachment struct {
	ID             string
	ConversationID string
	UserID         UserID
	FileName       string
	ContentType    string
	StorageKey     string
	CreatedAt      time.Time
}

// UploadTask hands the client a presigned URL to PUT the file to.
type UploadTask struct {
	Attachment *Attachment
	URL        string
}
