// Package processor executes one job's step sequence, publishing an entity
// transition before every remote call so observers always see what is
// currently happening.
package processor

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"enricher/internal/domain"
	"enricher/internal/infra"
	"enricher/internal/placement"
	"enricher/internal/providers/imagegen"
	"enricher/internal/providers/platform"
	"enricher/internal/providers/textgen"
	"enricher/internal/providers/vision"
	"enricher/internal/remote"
	"enricher/internal/storage"
	"enricher/internal/store"
)

const (
	briefMaxTokens           = 512
	defaultCallTimeout       = 30 * time.Second
	defaultMinBlocksForModel = 4
)

// Config wires the processor's collaborators. Platform, image generation and
// the store are required; text generation, vision and the file store are
// optional refinements.
type Config struct {
	Store    store.Store
	Platform platform.API
	TextGen  textgen.Generator
	ImageGen imagegen.Generator
	Vision   vision.Analyzer
	Files    *storage.FileStore
	Logger   infra.Logger

	Locale            string
	CallTimeout       time.Duration
	Retry             remote.RetryPolicy
	MinBlocksForModel int
	ImageSize         string
}

// Processor runs jobs against entities. One Processor serves all concurrent
// jobs; it holds no per-job state.
type Processor struct {
	store    store.Store
	platform platform.API
	textgen  textgen.Generator
	imagegen imagegen.Generator
	vision   vision.Analyzer
	files    *storage.FileStore
	logger   infra.Logger

	locale        string
	timeout       time.Duration
	retry         remote.RetryPolicy
	minBlocks     int
	imageSize     string
	modelPlacer   placement.Strategy
	fallbackPlace placement.Strategy
}

// New constructs a Processor.
func New(cfg Config) *Processor {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	minBlocks := cfg.MinBlocksForModel
	if minBlocks <= 0 {
		minBlocks = defaultMinBlocksForModel
	}
	locale := cfg.Locale
	if locale == "" {
		locale = "en"
	}
	p := &Processor{
		store:         cfg.Store,
		platform:      cfg.Platform,
		textgen:       cfg.TextGen,
		imagegen:      cfg.ImageGen,
		vision:        cfg.Vision,
		files:         cfg.Files,
		logger:        cfg.Logger,
		locale:        locale,
		timeout:       timeout,
		retry:         cfg.Retry,
		minBlocks:     minBlocks,
		imageSize:     cfg.ImageSize,
		fallbackPlace: placement.Heuristic{},
	}
	if cfg.TextGen != nil {
		p.modelPlacer = placement.NewModelStrategy(&gatedGenerator{
			gen:     cfg.TextGen,
			timeout: timeout,
			policy:  p.retry,
		})
	}
	return p
}

// Run executes the job and reports the outcome through entity state only.
func (p *Processor) Run(ctx context.Context, job *domain.Job) {
	started := time.Now()
	p.logger.Info().
		Str("job_id", job.ID).
		Str("entity_id", job.EntityID).
		Str("action", job.Action.Name()).
		Msg("processor: job started")

	if err := p.process(ctx, job); err != nil {
		p.fail(ctx, job, err)
		return
	}
	p.logger.Info().
		Str("job_id", job.ID).
		Str("entity_id", job.EntityID).
		Str("action", job.Action.Name()).
		Dur("elapsed", time.Since(started)).
		Msg("processor: job succeeded")
}

func (p *Processor) process(ctx context.Context, job *domain.Job) error {
	switch action := job.Action.(type) {
	case domain.GenerateAction:
		return p.generate(ctx, job.EntityID, action)
	case domain.InsertAction:
		if action.Image.URL == "" {
			return fmt.Errorf("%w: insert requires an image url", domain.ErrMissingPayload)
		}
		return p.insertAuto(ctx, job.EntityID, action.Image)
	case domain.InsertAtAction:
		if action.Image.URL == "" {
			return fmt.Errorf("%w: insert requires an image url", domain.ErrMissingPayload)
		}
		return p.insertAt(ctx, job.EntityID, action.Image, action.AfterBlock)
	case domain.SetFeaturedAction:
		return p.setFeatured(ctx, job.EntityID)
	case domain.UploadInsertAction:
		if len(action.Data) == 0 {
			return fmt.Errorf("%w: upload requires image bytes", domain.ErrMissingPayload)
		}
		return p.uploadInsert(ctx, job.EntityID, action)
	default:
		return fmt.Errorf("unsupported action %q", job.Action.Name())
	}
}

// generate: generating_brief → generating_image → uploading → success.
func (p *Processor) generate(ctx context.Context, entityID string, action domain.GenerateAction) error {
	entity, err := p.loadEntity(ctx, entityID)
	if err != nil {
		return err
	}

	if err := p.transition(ctx, entityID, domain.StatusGeneratingBrief, "Writing image brief"); err != nil {
		return err
	}
	brief, err := p.buildBrief(ctx, entity, action.Brief)
	if err != nil {
		return fmt.Errorf("generate brief: %w", err)
	}

	if err := p.transition(ctx, entityID, domain.StatusGeneratingImage, "Rendering image"); err != nil {
		return err
	}
	asset, err := remote.RetryValue(ctx, p.retry, func(attemptCtx context.Context) (*imagegen.Asset, error) {
		return remote.CallValue(attemptCtx, p.timeout, func(callCtx context.Context) (*imagegen.Asset, error) {
			return p.imagegen.Generate(callCtx, imagegen.Request{Prompt: brief, Size: p.imageSize})
		})
	})
	if err != nil {
		return fmt.Errorf("generate image: %w", err)
	}
	p.backupAsset(ctx, entityID, asset)

	altText := p.analyzeAltText(ctx, entity, asset, brief)

	if err := p.transition(ctx, entityID, domain.StatusUploading, "Uploading image to platform"); err != nil {
		return err
	}
	ref, err := remote.RetryValue(ctx, p.retry, func(attemptCtx context.Context) (domain.AssetRef, error) {
		return remote.CallValue(attemptCtx, p.timeout, func(callCtx context.Context) (domain.AssetRef, error) {
			return p.platform.UploadAsset(callCtx, asset.Data, assetFilename(entity), altText)
		})
	})
	if err != nil {
		return fmt.Errorf("upload image: %w", err)
	}
	ref.Brief = brief

	_, err = p.store.Apply(ctx, entityID, func(e domain.Entity) domain.Entity {
		e.Status = domain.StatusSuccess
		e.StatusMessage = "Image generated and uploaded"
		e.GeneratedImage = &ref
		return e
	})
	return err
}

// insertAuto: analyzing_placement → inserting → success.
func (p *Processor) insertAuto(ctx context.Context, entityID string, image domain.AssetRef) error {
	entity, err := p.loadEntity(ctx, entityID)
	if err != nil {
		return err
	}

	if err := p.transition(ctx, entityID, domain.StatusAnalyzingPlacement, "Choosing where the image fits"); err != nil {
		return err
	}
	blocks := placement.SplitBlocks(entity.Content)
	pos := p.choosePlacement(ctx, entity, blocks)

	return p.insertAtPosition(ctx, entity, image, blocks, pos)
}

// insertAt: inserting → success; the caller already resolved the position.
func (p *Processor) insertAt(ctx context.Context, entityID string, image domain.AssetRef, afterBlock int) error {
	entity, err := p.loadEntity(ctx, entityID)
	if err != nil {
		return err
	}
	blocks := placement.SplitBlocks(entity.Content)
	pos := placement.Clamp(placement.Position{AfterBlock: afterBlock}, len(blocks))
	return p.insertAtPosition(ctx, entity, image, blocks, pos)
}

func (p *Processor) insertAtPosition(ctx context.Context, entity domain.Entity, image domain.AssetRef, blocks []string, pos placement.Position) error {
	entityID := entity.ID
	if err := p.transition(ctx, entityID, domain.StatusInserting, "Inserting image into content"); err != nil {
		return err
	}
	content := placement.InsertBlock(blocks, pos, figureMarkup(image))
	newCount := entity.ImageCount + 1
	err := remote.Retry(ctx, p.retry, func(attemptCtx context.Context) error {
		return remote.Call(attemptCtx, p.timeout, func(callCtx context.Context) error {
			return p.platform.UpdateEntity(callCtx, entityID, platform.UpdateFields{Content: &content, ImageCount: &newCount})
		})
	})
	if err != nil {
		return fmt.Errorf("update content: %w", err)
	}

	_, err = p.store.Apply(ctx, entityID, func(e domain.Entity) domain.Entity {
		e.Status = domain.StatusSuccess
		e.StatusMessage = "Image inserted"
		e.Content = content
		e.ImageCount++
		return e
	})
	return err
}

// setFeatured: setting_featured → success.
func (p *Processor) setFeatured(ctx context.Context, entityID string) error {
	entity, err := p.loadEntity(ctx, entityID)
	if err != nil {
		return err
	}
	if entity.GeneratedImage == nil || entity.GeneratedImage.RemoteID == "" {
		return domain.ErrNoGeneratedImage
	}
	remoteID := entity.GeneratedImage.RemoteID

	if err := p.transition(ctx, entityID, domain.StatusSettingFeatured, "Setting featured image"); err != nil {
		return err
	}
	err = remote.Retry(ctx, p.retry, func(attemptCtx context.Context) error {
		return remote.Call(attemptCtx, p.timeout, func(callCtx context.Context) error {
			return p.platform.UpdateEntity(callCtx, entityID, platform.UpdateFields{FeaturedImageID: &remoteID})
		})
	})
	if err != nil {
		return fmt.Errorf("set featured image: %w", err)
	}

	_, err = p.store.Apply(ctx, entityID, func(e domain.Entity) domain.Entity {
		e.Status = domain.StatusSuccess
		e.StatusMessage = "Featured image set"
		e.FeaturedImageID = remoteID
		return e
	})
	return err
}

// uploadInsert: uploading → analyzing_placement → inserting → success.
func (p *Processor) uploadInsert(ctx context.Context, entityID string, action domain.UploadInsertAction) error {
	entity, err := p.loadEntity(ctx, entityID)
	if err != nil {
		return err
	}

	if err := p.transition(ctx, entityID, domain.StatusUploading, "Uploading image to platform"); err != nil {
		return err
	}
	filename := action.Filename
	if filename == "" {
		filename = assetFilename(entity)
	}
	altText := action.AltText
	derived := altText == ""
	if derived {
		altText = fallbackAltText(entity)
	}
	ref, err := remote.RetryValue(ctx, p.retry, func(attemptCtx context.Context) (domain.AssetRef, error) {
		return remote.CallValue(attemptCtx, p.timeout, func(callCtx context.Context) (domain.AssetRef, error) {
			return p.platform.UploadAsset(callCtx, action.Data, filename, altText)
		})
	})
	if err != nil {
		return fmt.Errorf("upload image: %w", err)
	}
	if derived {
		ref.AltText = p.improveAltText(ctx, entity, &ref, action.Data)
	}

	if err := p.transition(ctx, entityID, domain.StatusAnalyzingPlacement, "Choosing where the image fits"); err != nil {
		return err
	}
	blocks := placement.SplitBlocks(entity.Content)
	pos := p.choosePlacement(ctx, entity, blocks)

	if err := p.insertAtPosition(ctx, entity, ref, blocks, pos); err != nil {
		return err
	}
	_, err = p.store.Apply(ctx, entityID, func(e domain.Entity) domain.Entity {
		e.GeneratedImage = &ref
		return e
	})
	return err
}

// fail publishes the terminal error transition. A failed transition write is
// only logged; there is nothing further to unwind.
func (p *Processor) fail(ctx context.Context, job *domain.Job, cause error) {
	message := p.friendly(cause)
	p.logger.Error().
		Err(cause).
		Str("job_id", job.ID).
		Str("entity_id", job.EntityID).
		Str("action", job.Action.Name()).
		Msg("processor: job failed")
	_, err := p.store.Apply(ctx, job.EntityID, func(e domain.Entity) domain.Entity {
		e.Status = domain.StatusError
		e.StatusMessage = message
		return e
	})
	if err != nil {
		p.logger.Error().Err(err).Str("entity_id", job.EntityID).Msg("processor: error transition not applied")
	}
}

func (p *Processor) friendly(err error) string {
	switch {
	case errors.Is(err, domain.ErrMissingPayload),
		errors.Is(err, domain.ErrNoGeneratedImage),
		errors.Is(err, domain.ErrEntityNotFound):
		return err.Error()
	default:
		return remote.FriendlyMessage(err, p.locale)
	}
}

// transition publishes one step's status before its remote call is issued.
// Status and message always change together.
func (p *Processor) transition(ctx context.Context, entityID string, status domain.Status, message string) error {
	_, err := p.store.Apply(ctx, entityID, func(e domain.Entity) domain.Entity {
		e.Status = status
		e.StatusMessage = message
		return e
	})
	return err
}

// loadEntity returns a snapshot the step sequence can safely run against.
// Entities restored from persisted status rows carry no title or body; those
// are hydrated from the platform first, so an insert never mistakes a bare
// status snapshot for an empty article.
func (p *Processor) loadEntity(ctx context.Context, entityID string) (domain.Entity, error) {
	entity, err := p.store.Get(ctx, entityID)
	if err == nil {
		if entity.Title != "" || entity.Content != "" {
			return entity, nil
		}
		return p.hydrate(ctx, entity)
	}
	if !errors.Is(err, domain.ErrEntityNotFound) {
		return domain.Entity{}, err
	}
	entity, err = p.fetchEntity(ctx, entityID)
	if err != nil {
		return domain.Entity{}, err
	}
	if err := p.store.Put(ctx, entity); err != nil {
		return domain.Entity{}, err
	}
	return entity, nil
}

func (p *Processor) fetchEntity(ctx context.Context, entityID string) (domain.Entity, error) {
	entity, err := remote.RetryValue(ctx, p.retry, func(attemptCtx context.Context) (domain.Entity, error) {
		return remote.CallValue(attemptCtx, p.timeout, func(callCtx context.Context) (domain.Entity, error) {
			return p.platform.FetchEntity(callCtx, entityID)
		})
	})
	if err != nil {
		return domain.Entity{}, fmt.Errorf("fetch entity: %w", err)
	}
	return entity, nil
}

// hydrate merges live platform fields into a status-only snapshot, keeping
// the bookkeeping that persistence restored.
func (p *Processor) hydrate(ctx context.Context, cached domain.Entity) (domain.Entity, error) {
	fetched, err := p.fetchEntity(ctx, cached.ID)
	if err != nil {
		return domain.Entity{}, err
	}
	merged := cached
	merged.Title = fetched.Title
	merged.Content = fetched.Content
	merged.ExistingImage = fetched.ExistingImage
	merged.ImageCount = fetched.ImageCount
	if merged.FeaturedImageID == "" {
		merged.FeaturedImageID = fetched.FeaturedImageID
	}
	if err := p.store.Put(ctx, merged); err != nil {
		return domain.Entity{}, err
	}
	return merged, nil
}

// choosePlacement tries the model strategy when the body is long enough and
// falls back to the heuristic on any failure. Placement never fails a job.
func (p *Processor) choosePlacement(ctx context.Context, entity domain.Entity, blocks []string) placement.Position {
	if p.modelPlacer != nil && len(blocks) >= p.minBlocks {
		pos, err := p.modelPlacer.Choose(ctx, entity, blocks)
		if err == nil {
			return pos
		}
		p.logger.Warn().
			Err(err).
			Str("entity_id", entity.ID).
			Msg("processor: model placement failed, using heuristic")
	}
	pos, _ := p.fallbackPlace.Choose(ctx, entity, blocks)
	return pos
}

// buildBrief asks the text model for an image brief, or derives one from the
// entity when no text generator is configured.
func (p *Processor) buildBrief(ctx context.Context, entity domain.Entity, override string) (string, error) {
	if strings.TrimSpace(override) != "" {
		return strings.TrimSpace(override), nil
	}
	if p.textgen == nil {
		return fallbackBrief(entity), nil
	}
	raw, err := remote.RetryValue(ctx, p.retry, func(attemptCtx context.Context) (string, error) {
		return remote.CallValue(attemptCtx, p.timeout, func(callCtx context.Context) (string, error) {
			return p.textgen.Generate(callCtx, briefPrompt(entity), briefMaxTokens)
		})
	})
	if err != nil {
		return "", err
	}
	brief := strings.TrimSpace(textgen.TrimCodeFence(raw))
	if brief == "" {
		return "", textgen.ErrEmptyCompletion
	}
	return brief, nil
}

// analyzeAltText runs the optional vision pass. Failures degrade to the
// derived alt text; they never fail the job.
func (p *Processor) analyzeAltText(ctx context.Context, entity domain.Entity, asset *imagegen.Asset, brief string) string {
	if p.vision == nil {
		return fallbackAltText(entity)
	}
	analysis, err := remote.RetryValue(ctx, p.retry, func(attemptCtx context.Context) (vision.Analysis, error) {
		return remote.CallValue(attemptCtx, p.timeout, func(callCtx context.Context) (vision.Analysis, error) {
			return p.vision.Analyze(callCtx, asset.Data, asset.Format)
		})
	})
	if err != nil || strings.TrimSpace(analysis.AltText) == "" {
		if err != nil {
			p.logger.Warn().Err(err).Str("entity_id", entity.ID).Msg("processor: vision analysis failed")
		}
		return fallbackAltText(entity)
	}
	return strings.TrimSpace(analysis.AltText)
}

// improveAltText replaces a derived alt text with a vision-written one after
// the asset is already uploaded, pushing the update back to the platform.
// Best-effort on both calls; the derived text stands if either fails.
func (p *Processor) improveAltText(ctx context.Context, entity domain.Entity, ref *domain.AssetRef, data []byte) string {
	if p.vision == nil || ref.RemoteID == "" {
		return ref.AltText
	}
	analysis, err := remote.RetryValue(ctx, p.retry, func(attemptCtx context.Context) (vision.Analysis, error) {
		return remote.CallValue(attemptCtx, p.timeout, func(callCtx context.Context) (vision.Analysis, error) {
			return p.vision.Analyze(callCtx, data, "")
		})
	})
	if err != nil || strings.TrimSpace(analysis.AltText) == "" {
		if err != nil {
			p.logger.Warn().Err(err).Str("entity_id", entity.ID).Msg("processor: vision analysis failed")
		}
		return ref.AltText
	}
	altText := strings.TrimSpace(analysis.AltText)
	err = remote.Retry(ctx, p.retry, func(attemptCtx context.Context) error {
		return remote.Call(attemptCtx, p.timeout, func(callCtx context.Context) error {
			return p.platform.UpdateAssetAltText(callCtx, ref.RemoteID, altText)
		})
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("remote_id", ref.RemoteID).Msg("processor: alt text update failed")
		return ref.AltText
	}
	return altText
}

// backupAsset keeps a local copy of generated bytes so a later-failing upload
// leaves them inspectable.
func (p *Processor) backupAsset(ctx context.Context, entityID string, asset *imagegen.Asset) {
	if p.files == nil || len(asset.Data) == 0 {
		return
	}
	key := fmt.Sprintf("generated/%s/image%s", entityID, storage.ExtensionForMIME(asset.Format))
	if _, err := p.files.Write(ctx, key, asset.Data); err != nil {
		p.logger.Warn().Err(err).Str("entity_id", entityID).Msg("processor: asset backup failed")
	}
}

func briefPrompt(entity domain.Entity) string {
	sb := &strings.Builder{}
	sb.WriteString("Write a single-paragraph brief for an illustrative image to accompany an article. ")
	sb.WriteString("Describe subject, composition and mood. Do not mention text overlays. ")
	fmt.Fprintf(sb, "Article title: %q.", entity.Title)
	if excerptText := contentExcerpt(entity.Content, 400); excerptText != "" {
		fmt.Fprintf(sb, " Opening: %q.", excerptText)
	}
	return sb.String()
}

func fallbackBrief(entity domain.Entity) string {
	title := strings.TrimSpace(entity.Title)
	if title == "" {
		return "An illustrative editorial image"
	}
	c := cases.Title(language.Und)
	return fmt.Sprintf("%s — editorial illustration, clean composition, no text", c.String(title))
}

func fallbackAltText(entity domain.Entity) string {
	title := strings.TrimSpace(entity.Title)
	if title == "" {
		return "Illustrative image"
	}
	return "Illustration for " + title
}

func assetFilename(entity domain.Entity) string {
	slug := strings.ToLower(strings.TrimSpace(entity.Title))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, slug)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = entity.ID
	}
	if len(slug) > 48 {
		slug = slug[:48]
	}
	return slug + ".png"
}

func figureMarkup(image domain.AssetRef) string {
	alt := html.EscapeString(image.AltText)
	return fmt.Sprintf(`<figure class="enriched-image"><img src="%s" alt="%s"/></figure>`,
		html.EscapeString(image.URL), alt)
}

func contentExcerpt(content string, max int) string {
	blocks := placement.SplitBlocks(content)
	if len(blocks) == 0 {
		return ""
	}
	text := strings.Join(strings.Fields(stripTags(blocks[0])), " ")
	runes := []rune(text)
	if len(runes) > max {
		return string(runes[:max]) + "…"
	}
	return text
}

func stripTags(s string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// gatedGenerator routes model-placement calls through the gate and retrier so
// the strategy shares the same resilience as every other remote call.
type gatedGenerator struct {
	gen     textgen.Generator
	timeout time.Duration
	policy  remote.RetryPolicy
}

func (g *gatedGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return remote.RetryValue(ctx, g.policy, func(attemptCtx context.Context) (string, error) {
		return remote.CallValue(attemptCtx, g.timeout, func(callCtx context.Context) (string, error) {
			return g.gen.Generate(callCtx, prompt, maxTokens)
		})
	})
}
