package entity

import "time"

type Document struct {
	ID          int64     `json:"id"`
	OwnerID     int64     `json:"owner_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	UploadTime  time.Time `json:"upload_time"`
	NumChunks   int       `json:"num_chunks"`
}

type Chunk struct {
	ID         int64  `json:"id"`
	DocumentID int64  `json:"document_id"`
	Index      int    `json:"chunk_index"`
	Text       string `json:"text"`
}
