package domain

// Action is the closed set of operations a job can perform on an entity.
// Variants carry exactly the payload their step sequence needs; the sealed
// marker keeps the set closed so the processor's switch stays exhaustive.
type Action interface {
	Name() string
	sealed()
}

// GenerateAction produces a new image for the entity: brief, render, upload.
type GenerateAction struct {
	Brief string // optional override; empty means derive from the entity
}

// InsertAction places an already-available image into the entity body, letting
// the processor decide the position.
type InsertAction struct {
	Image AssetRef
}

// InsertAtAction places an image after a caller-resolved block index.
// AfterBlock -1 means prepend.
type InsertAtAction struct {
	Image      AssetRef
	AfterBlock int
}

// SetFeaturedAction records the previously generated image as the entity's
// featured image on the platform.
type SetFeaturedAction struct{}

// UploadInsertAction uploads raw bytes as a platform asset and then inserts it
// into the entity body.
type UploadInsertAction struct {
	Data     []byte
	Filename string
	AltText  string
}

func (GenerateAction) Name() string     { return "generate" }
func (InsertAction) Name() string       { return "insert" }
func (InsertAtAction) Name() string     { return "insert_at" }
func (SetFeaturedAction) Name() string  { return "set_featured" }
func (UploadInsertAction) Name() string { return "upload_and_insert" }

func (GenerateAction) sealed()     {}
func (InsertAction) sealed()       {}
func (InsertAtAction) sealed()     {}
func (SetFeaturedAction) sealed()  {}
func (UploadInsertAction) sealed() {}

// Job is an immutable work order: one entity, one action. Jobs are created by
// the caller, admitted by the scheduler and discarded once processed.
type Job struct {
	ID       string
	EntityID string
	Action   Action
}
