package domain

import "time"

// Status enumerates entity lifecycle states while an enrichment job runs.
type Status string

const (
	StatusPending            Status = "pending"
	StatusGeneratingBrief    Status = "generating_brief"
	StatusGeneratingImage    Status = "generating_image"
	StatusUploading          Status = "uploading"
	StatusAnalyzingPlacement Status = "analyzing_placement"
	StatusInserting          Status = "inserting"
	StatusSettingFeatured    Status = "setting_featured"
	StatusSuccess            Status = "success"
	StatusError              Status = "error"
)

// Terminal reports whether the status ends a job's step sequence.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// AssetRef points at an uploaded image on the content platform.
type AssetRef struct {
	URL      string `json:"url"`
	RemoteID string `json:"remote_id"`
	AltText  string `json:"alt_text"`
	Brief    string `json:"brief,omitempty"`
}

// Entity is a content item being enriched with images. Values are treated as
// immutable snapshots: every mutation goes through a store Apply that replaces
// the whole value keyed by ID.
type Entity struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	Status          Status    `json:"status"`
	StatusMessage   string    `json:"status_message"`
	GeneratedImage  *AssetRef `json:"generated_image,omitempty"`
	ExistingImage   *AssetRef `json:"existing_image,omitempty"`
	FeaturedImageID string    `json:"featured_image_id,omitempty"`
	ImageCount      int       `json:"image_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasImage reports whether the entity already carries any usable image.
func (e Entity) HasImage() bool {
	return e.GeneratedImage != nil || e.ExistingImage != nil || e.ImageCount > 0
}
