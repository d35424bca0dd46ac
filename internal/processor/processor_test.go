package processor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"enricher/internal/domain"
	"enricher/internal/providers/imagegen"
	"enricher/internal/providers/platform"
	"enricher/internal/providers/vision"
	"enricher/internal/remote"
	"enricher/internal/store"
)

type fakePlatform struct {
	mu         sync.Mutex
	entities   map[string]domain.Entity
	fetches    int
	updates    []platform.UpdateFields
	uploads    int
	uploadErr  error
	updateErr  error
	uploadRef  domain.AssetRef
	altUpdates []string
}

func (f *fakePlatform) FetchEntity(ctx context.Context, id string) (domain.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	entity, ok := f.entities[id]
	if !ok {
		return domain.Entity{}, domain.ErrEntityNotFound
	}
	return entity, nil
}

func (f *fakePlatform) FetchEntities(ctx context.Context, ids []string) ([]domain.Entity, error) {
	return nil, nil
}

func (f *fakePlatform) ListEntityIDs(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (f *fakePlatform) UpdateEntity(ctx context.Context, id string, fields platform.UpdateFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, fields)
	return nil
}

func (f *fakePlatform) UploadAsset(ctx context.Context, data []byte, filename, altText string) (domain.AssetRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return domain.AssetRef{}, f.uploadErr
	}
	f.uploads++
	ref := f.uploadRef
	if ref.URL == "" {
		ref = domain.AssetRef{URL: "https://cdn.example/img.png", RemoteID: "asset-1"}
	}
	ref.AltText = altText
	return ref, nil
}

func (f *fakePlatform) UpdateAssetAltText(ctx context.Context, remoteID, altText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.altUpdates = append(f.altUpdates, remoteID+"="+altText)
	return nil
}

func (f *fakePlatform) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type fakeTextGen struct {
	reply string
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeTextGen) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.reply, f.err
}

type fakeImageGen struct {
	err   error
	asset *imagegen.Asset
}

func (f *fakeImageGen) Generate(ctx context.Context, req imagegen.Request) (*imagegen.Asset, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.asset != nil {
		return f.asset, nil
	}
	return &imagegen.Asset{Data: []byte("pngbytes"), Format: "image/png"}, nil
}

type fakeVision struct {
	analysis vision.Analysis
	err      error
}

func (f *fakeVision) Analyze(ctx context.Context, imageData []byte, mimeType string) (vision.Analysis, error) {
	return f.analysis, f.err
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func quickRetry() remote.RetryPolicy {
	return remote.RetryPolicy{MaxAttempts: 1, InitialDelay: time.Millisecond}
}

func newTestProcessor(t *testing.T, cfg Config) (*Processor, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	cfg.Store = mem
	cfg.Logger = testLogger()
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = quickRetry()
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = time.Second
	}
	return New(cfg), mem
}

func seedEntity(t *testing.T, mem *store.MemoryStore, e domain.Entity) {
	t.Helper()
	if e.Status == "" {
		e.Status = domain.StatusPending
	}
	if err := mem.Put(context.Background(), e); err != nil {
		t.Fatalf("seed entity: %v", err)
	}
}

func recordTransitions(mem *store.MemoryStore) func() []domain.Status {
	var mu sync.Mutex
	var seen []domain.Status
	mem.Subscribe(func(e domain.Entity) {
		mu.Lock()
		seen = append(seen, e.Status)
		mu.Unlock()
	})
	return func() []domain.Status {
		mu.Lock()
		defer mu.Unlock()
		out := make([]domain.Status, len(seen))
		copy(out, seen)
		return out
	}
}

func TestGenerateSucceedsThroughAllSteps(t *testing.T) {
	pf := &fakePlatform{}
	p, mem := newTestProcessor(t, Config{
		Platform: pf,
		TextGen:  &fakeTextGen{reply: "A warm morning scene over a market square"},
		ImageGen: &fakeImageGen{},
	})
	seedEntity(t, mem, domain.Entity{ID: "e1", Title: "Market Mornings", Content: "<p>one</p><p>two</p>"})
	transitions := recordTransitions(mem)

	p.Run(context.Background(), &domain.Job{ID: "j1", EntityID: "e1", Action: domain.GenerateAction{}})

	got, err := mem.Get(context.Background(), "e1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusSuccess {
		t.Fatalf("status = %q (%s), want %q", got.Status, got.StatusMessage, domain.StatusSuccess)
	}
	if got.GeneratedImage == nil || got.GeneratedImage.URL == "" {
		t.Fatalf("generated image = %+v, want uploaded ref", got.GeneratedImage)
	}
	if got.GeneratedImage.Brief == "" {
		t.Fatalf("generated image brief is empty")
	}
	want := []domain.Status{
		domain.StatusGeneratingBrief,
		domain.StatusGeneratingImage,
		domain.StatusUploading,
		domain.StatusSuccess,
	}
	seen := transitions()
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("transition[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
	if pf.uploads != 1 {
		t.Fatalf("uploads = %d, want 1", pf.uploads)
	}
}

func TestGenerateWithoutTextGenUsesDerivedBrief(t *testing.T) {
	pf := &fakePlatform{}
	p, mem := newTestProcessor(t, Config{Platform: pf, ImageGen: &fakeImageGen{}})
	seedEntity(t, mem, domain.Entity{ID: "e1", Title: "winter hiking"})

	p.Run(context.Background(), &domain.Job{ID: "j1", EntityID: "e1", Action: domain.GenerateAction{}})

	got, _ := mem.Get(context.Background(), "e1")
	if got.Status != domain.StatusSuccess {
		t.Fatalf("status = %q (%s)", got.Status, got.StatusMessage)
	}
	if !strings.Contains(got.GeneratedImage.Brief, "Winter Hiking") {
		t.Fatalf("brief = %q, want derived from title", got.GeneratedImage.Brief)
	}
}

func TestGenerateFailsWhenImageProviderFails(t *testing.T) {
	pf := &fakePlatform{}
	p, mem := newTestProcessor(t, Config{
		Platform: pf,
		ImageGen: &fakeImageGen{err: errors.New("imagegen: boom")},
	})
	seedEntity(t, mem, domain.Entity{ID: "e1", Title: "T"})

	p.Run(context.Background(), &domain.Job{ID: "j1", EntityID: "e1", Action: domain.GenerateAction{}})

	got, _ := mem.Get(context.Background(), "e1")
	if got.Status != domain.StatusError {
		t.Fatalf("status = %q, want %q", got.Status, domain.StatusError)
	}
	if got.StatusMessage == "" {
		t.Fatalf("error transition carries no message")
	}
	if pf.uploads != 0 {
		t.Fatalf("uploads = %d, want 0 after generation failure", pf.uploads)
	}
}

func TestInsertRejectsMissingImageWithoutRemoteCalls(t *testing.T) {
	pf := &fakePlatform{}
	p, mem := newTestProcessor(t, Config{Platform: pf, ImageGen: &fakeImageGen{}})
	seedEntity(t, mem, domain.Entity{ID: "e1", Content: "<p>a</p>"})

	p.Run(context.Background(), &domain.Job{ID: "j1", EntityID: "e1", Action: domain.InsertAction{}})

	got, _ := mem.Get(context.Background(), "e1")
	if got.Status != domain.StatusError {
		t.Fatalf("status = %q, want %q", got.Status, domain.StatusError)
	}
	if !strings.Contains(got.StatusMessage, "image url") {
		t.Fatalf("message = %q, want payload complaint", got.StatusMessage)
	}
	if pf.updateCount() != 0 || pf.uploads != 0 {
		t.Fatalf("remote calls made for a precondition failure")
	}
}

func TestInsertPlacesImageAndBumpsCount(t *testing.T) {
	pf := &fakePlatform{}
	p, mem := newTestProcessor(t, Config{Platform: pf, ImageGen: &fakeImageGen{}})
	seedEntity(t, mem, domain.Entity{
		ID:         "e1",
		Content:    "<p>one</p><p>two</p><p>three</p>",
		ImageCount: 1,
	})

	image := domain.AssetRef{URL: "https://cdn.example/pic.png", AltText: `A "quoted" caption`}
	p.Run(context.Background(), &domain.Job{ID: "j1", EntityID: "e1", Action: domain.InsertAction{Image: image}})

	got, _ := mem.Get(context.Background(), "e1")
	if got.Status != domain.StatusSuccess {
		t.Fatalf("status = %q (%s)", got.Status, got.StatusMessage)
	}
	if got.ImageCount != 2 {
		t.Fatalf("image count = %d, want 2", got.ImageCount)
	}
	if !strings.Contains(got.Content, `src="https://cdn.example/pic.png"`) {
		t.Fatalf("content missing figure: %q", got.Content)
	}
	if !strings.Contains(got.Content, "&#34;quoted&#34;") {
		t.Fatalf("alt text not escaped: %q", got.Content)
	}
	if pf.updateCount() != 1 {
		t.Fatalf("updates = %d, want 1", pf.updateCount())
	}
	fields := pf.updates[0]
	if fields.Content == nil || fields.ImageCount == nil || *fields.ImageCount != 2 {
		t.Fatalf("update fields = %+v", fields)
	}
	// Heuristic places after the first block when there are three blocks or more.
	idx := strings.Index(got.Content, "<figure")
	first := strings.Index(got.Content, "<p>two</p>")
	if idx < first {
		t.Fatalf("figure before second block: %q", got.Content)
	}
}

func TestInsertAtHonorsExplicitPosition(t *testing.T) {
	pf := &fakePlatform{}
	p, mem := newTestProcessor(t, Config{Platform: pf, ImageGen: &fakeImageGen{}})
	seedEntity(t, mem, domain.Entity{ID: "e1", Content: "<p>one</p><p>two</p>"})

	image := domain.AssetRef{URL: "https://cdn.example/pic.png"}
	p.Run(context.Background(), &domain.Job{ID: "j1", EntityID: "e1", Action: domain.InsertAtAction{Image: image, AfterBlock: -1}})

	got, _ := mem.Get(context.Background(), "e1")
	if got.Status != domain.StatusSuccess {
		t.Fatalf("status = %q (%s)", got.Status, got.StatusMessage)
	}
	if !strings.HasPrefix(got.Content, "<figure") {
		t.Fatalf("prepend position not honored: %q", got.Content)
	}
}

func TestModelPlacementFailureFallsBackToHeuristic(t *testing.T) {
	pf := &fakePlatform{}
	gen := &fakeTextGen{reply: "this is not json at all"}
	p, mem := newTestProcessor(t, Config{
		Platform:          pf,
		TextGen:           gen,
		ImageGen:          &fakeImageGen{},
		MinBlocksForModel: 2,
	})
	seedEntity(t, mem, domain.Entity{ID: "e1", Content: "<p>one</p><p>two</p><p>three</p><p>four</p>"})

	image := domain.AssetRef{URL: "https://cdn.example/pic.png"}
	p.Run(context.Background(), &domain.Job{ID: "j1", EntityID: "e1", Action: domain.InsertAction{Image: image}})

	got, _ := mem.Get(context.Background(), "e1")
	if got.Status != domain.StatusSuccess {
		t.Fatalf("status = %q (%s), want fallback success", got.Status, got.StatusMessage)
	}
	gen.mu.Lock()
	calls := gen.calls
	gen.mu.Unlock()
	if calls == 0 {
		t.Fatalf("model strategy never consulted")
	}
}

func TestSetFeaturedRequiresGeneratedImage(t *testing.T) {
	pf := &fakePlatform{}
	p, mem := newTestProcessor(t, Config{Platform: pf, ImageGen: &fakeImageGen{}})
	seedEntity(t, mem, domain.Entity{ID: "e1", Title: "Stories"})

	p.Run(context.Background(), &domain.Job{ID: "j1", EntityID: "e1", Action: domain.SetFeaturedAction{}})

	got, _ := mem.Get(context.Background(), "e1")
	if got.Status != domain.StatusError {
		t.Fatalf("status = %q, want %q", got.Status, domain.StatusError)
	}
	if pf.updateCount() != 0 {
		t.Fatalf("platform updated despite missing generated image")
	}
}

func TestSetFeaturedUpdatesPlatformAndEntity(t *testing.T) {
	pf := &fakePlatform{}
	p, mem := newTestProcessor(t, Config{Platform: pf, ImageGen: &fakeImageGen{}})
	seedEntity(t, mem, domain.Entity{
		ID:             "e1",
		Title:          "Stories",
		GeneratedImage: &domain.AssetRef{URL: "https://cdn.example/pic.png", RemoteID: "asset-9"},
	})

	p.Run(context.Background(), &domain.Job{ID: "j1", EntityID: "e1", Action: domain.SetFeaturedAction{}})

	got, _ := mem.Get(context.Background(), "e1")
	if got.Status != domain.StatusSuccess {
		t.Fatalf("status = %q (%s)", got.Status, got.StatusMessage)
	}
	if got.FeaturedImageID != "asset-9" {
		t.Fatalf("featured image id = %q, want asset-9", got.FeaturedImageID)
	}
	if pf.updateCount() != 1 || pf.updates[0].FeaturedImageID == nil || *pf.updates[0].FeaturedImageID != "asset-9" {
		t.Fatalf("update fields = %+v", pf.updates)
	}
}

func TestUploadInsertRunsFullSequence(t *testing.T) {
	pf := &fakePlatform{}
	p, mem := newTestProcessor(t, Config{Platform: pf, ImageGen: &fakeImageGen{}})
	seedEntity(t, mem, domain.Entity{ID: "e1", Title: "Trip Notes", Content: "<p>one</p><p>two</p><p>three</p>"})
	transitions := recordTransitions(mem)

	action := domain.UploadInsertAction{Data: []byte("raw"), Filename: "trip.png", AltText: "A mountain trail"}
	p.Run(context.Background(), &domain.Job{ID: "j1", EntityID: "e1", Action: action})

	got, _ := mem.Get(context.Background(), "e1")
	if got.Status != domain.StatusSuccess {
		t.Fatalf("status = %q (%s)", got.Status, got.StatusMessage)
	}
	if got.GeneratedImage == nil || got.GeneratedImage.AltText != "A mountain trail" {
		t.Fatalf("generated image = %+v", got.GeneratedImage)
	}
	if pf.uploads != 1 || pf.updateCount() != 1 {
		t.Fatalf("uploads = %d, updates = %d", pf.uploads, pf.updateCount())
	}
	seen := transitions()
	wantPrefix := []domain.Status{
		domain.StatusUploading,
		domain.StatusAnalyzingPlacement,
		domain.StatusInserting,
	}
	if len(seen) < len(wantPrefix) {
		t.Fatalf("transitions = %v", seen)
	}
	for i, w := range wantPrefix {
		if seen[i] != w {
			t.Fatalf("transition[%d] = %q, want %q", i, seen[i], w)
		}
	}
}

func TestUploadInsertImprovesDerivedAltText(t *testing.T) {
	pf := &fakePlatform{}
	p, mem := newTestProcessor(t, Config{
		Platform: pf,
		ImageGen: &fakeImageGen{},
		Vision:   &fakeVision{analysis: vision.Analysis{AltText: "A painted shoreline"}},
	})
	seedEntity(t, mem, domain.Entity{ID: "e1", Title: "Shore", Content: "<p>one</p>"})

	action := domain.UploadInsertAction{Data: []byte("raw")}
	p.Run(context.Background(), &domain.Job{ID: "j1", EntityID: "e1", Action: action})

	got, _ := mem.Get(context.Background(), "e1")
	if got.Status != domain.StatusSuccess {
		t.Fatalf("status = %q (%s)", got.Status, got.StatusMessage)
	}
	if got.GeneratedImage.AltText != "A painted shoreline" {
		t.Fatalf("alt text = %q, want vision rewrite", got.GeneratedImage.AltText)
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if len(pf.altUpdates) != 1 || pf.altUpdates[0] != "asset-1=A painted shoreline" {
		t.Fatalf("alt updates = %v", pf.altUpdates)
	}
}

func TestUploadInsertRejectsEmptyPayload(t *testing.T) {
	pf := &fakePlatform{}
	p, mem := newTestProcessor(t, Config{Platform: pf, ImageGen: &fakeImageGen{}})
	seedEntity(t, mem, domain.Entity{ID: "e1"})

	p.Run(context.Background(), &domain.Job{ID: "j1", EntityID: "e1", Action: domain.UploadInsertAction{}})

	got, _ := mem.Get(context.Background(), "e1")
	if got.Status != domain.StatusError {
		t.Fatalf("status = %q, want %q", got.Status, domain.StatusError)
	}
	if pf.uploads != 0 {
		t.Fatalf("uploads = %d, want 0", pf.uploads)
	}
}

func TestVisionAltTextIsPreferredWhenAvailable(t *testing.T) {
	pf := &fakePlatform{}
	p, mem := newTestProcessor(t, Config{
		Platform: pf,
		ImageGen: &fakeImageGen{},
		Vision:   &fakeVision{analysis: vision.Analysis{Score: 0.9, AltText: "A detailed scene"}},
	})
	seedEntity(t, mem, domain.Entity{ID: "e1", Title: "T"})

	p.Run(context.Background(), &domain.Job{ID: "j1", EntityID: "e1", Action: domain.GenerateAction{}})

	got, _ := mem.Get(context.Background(), "e1")
	if got.Status != domain.StatusSuccess {
		t.Fatalf("status = %q (%s)", got.Status, got.StatusMessage)
	}
	if got.GeneratedImage.AltText != "A detailed scene" {
		t.Fatalf("alt text = %q, want vision result", got.GeneratedImage.AltText)
	}
}

func TestVisionFailureDegradesToDerivedAltText(t *testing.T) {
	pf := &fakePlatform{}
	p, mem := newTestProcessor(t, Config{
		Platform: pf,
		ImageGen: &fakeImageGen{},
		Vision:   &fakeVision{err: errors.New("vision: boom")},
	})
	seedEntity(t, mem, domain.Entity{ID: "e1", Title: "Harbor Lights"})

	p.Run(context.Background(), &domain.Job{ID: "j1", EntityID: "e1", Action: domain.GenerateAction{}})

	got, _ := mem.Get(context.Background(), "e1")
	if got.Status != domain.StatusSuccess {
		t.Fatalf("status = %q (%s), vision must not fail the job", got.Status, got.StatusMessage)
	}
	if got.GeneratedImage.AltText != "Illustration for Harbor Lights" {
		t.Fatalf("alt text = %q", got.GeneratedImage.AltText)
	}
}

func TestStatusOnlySnapshotIsHydratedBeforeInsert(t *testing.T) {
	pf := &fakePlatform{entities: map[string]domain.Entity{
		"e1": {ID: "e1", Title: "Restored", Content: "<p>one</p><p>two</p><p>three</p>", ImageCount: 1},
	}}
	p, mem := newTestProcessor(t, Config{Platform: pf, ImageGen: &fakeImageGen{}})
	// Snapshots restored from persistence carry status bookkeeping only.
	seedEntity(t, mem, domain.Entity{ID: "e1", Status: domain.StatusSuccess, StatusMessage: "Image generated and uploaded"})

	image := domain.AssetRef{URL: "https://cdn.example/pic.png"}
	p.Run(context.Background(), &domain.Job{ID: "j1", EntityID: "e1", Action: domain.InsertAction{Image: image}})

	got, _ := mem.Get(context.Background(), "e1")
	if got.Status != domain.StatusSuccess {
		t.Fatalf("status = %q (%s)", got.Status, got.StatusMessage)
	}
	if pf.updateCount() != 1 {
		t.Fatalf("updates = %d, want 1", pf.updateCount())
	}
	fields := pf.updates[0]
	if fields.Content == nil {
		t.Fatalf("update fields = %+v, want content", fields)
	}
	pushed := *fields.Content
	if !strings.Contains(pushed, "<p>one</p>") || !strings.Contains(pushed, "<p>three</p>") {
		t.Fatalf("pushed content lost the live body: %q", pushed)
	}
	if !strings.Contains(pushed, "<figure") {
		t.Fatalf("pushed content missing figure: %q", pushed)
	}
	if strings.HasPrefix(pushed, "<figure") {
		t.Fatalf("figure replaced the body instead of joining it: %q", pushed)
	}
	if fields.ImageCount == nil || *fields.ImageCount != 2 {
		t.Fatalf("update fields = %+v, want image count 2", fields)
	}
	pf.mu.Lock()
	fetches := pf.fetches
	pf.mu.Unlock()
	if fetches != 1 {
		t.Fatalf("fetches = %d, want 1 hydration fetch", fetches)
	}
}

func TestUnknownEntityFailsWithNotFound(t *testing.T) {
	pf := &fakePlatform{}
	p, mem := newTestProcessor(t, Config{Platform: pf, ImageGen: &fakeImageGen{}})

	p.Run(context.Background(), &domain.Job{ID: "j1", EntityID: "ghost", Action: domain.SetFeaturedAction{}})

	if _, err := mem.Get(context.Background(), "ghost"); !errors.Is(err, domain.ErrEntityNotFound) {
		t.Fatalf("ghost entity materialized: %v", err)
	}
}
