package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"provenancePoster/worker/bluesky"
	"provenancePoster/worker/kafka"
	"provenancePoster/worker/models"
	"provenancePoster/worker/progress"
	"provenancePoster/worker/render"
	"provenancePoster/worker/repository"
)

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	uploads []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) key(bucket, path string) string { return bucket + "/" + path }

func (s *fakeStore) put(bucket, path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[s.key(bucket, path)] = data
}

func (s *fakeStore) Download(bucket, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[s.key(bucket, path)]
	if !ok {
		return nil, fmt.Errorf("object %s not found", s.key(bucket, path))
	}
	return data, nil
}

func (s *fakeStore) DownloadJSON(bucket, path string, v any) error {
	data, err := s.Download(bucket, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *fakeStore) Upload(bucket, path string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[s.key(bucket, path)] = data
	s.uploads = append(s.uploads, s.key(bucket, path))
	return nil
}

func (s *fakeStore) PublicURL(bucket, path string) string {
	return "https://cdn.example/" + bucket + "/" + path
}

type fakeTracker struct {
	mu      sync.Mutex
	records map[string]*progress.Record
	history []progress.Record
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{records: map[string]*progress.Record{}}
}

func (t *fakeTracker) Get(_ context.Context, taskID string) (*progress.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	record, ok := t.records[taskID]
	if !ok {
		return nil, nil
	}
	copied := *record
	return &copied, nil
}

func (t *fakeTracker) Update(_ context.Context, taskID string, status progress.Status, pct int, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	record := progress.Record{TaskID: taskID, Status: status, Progress: pct, Message: message, UpdatedAt: time.Now().Unix()}
	t.records[taskID] = &record
	t.history = append(t.history, record)
	return nil
}

func (t *fakeTracker) Fail(_ context.Context, taskID string, pct int, message string, cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	record := progress.Record{TaskID: taskID, Status: progress.StatusError, Progress: pct, Message: message, UpdatedAt: time.Now().Unix()}
	if cause != nil {
		record.Error = cause.Error()
	}
	t.records[taskID] = &record
	t.history = append(t.history, record)
}

func (t *fakeTracker) last(taskID string) *progress.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.records[taskID]
}

type fakeRepo struct {
	mu      sync.Mutex
	users   map[string]*repository.User
	records []repository.PostRecord
}

func (r *fakeRepo) GetUser(_ context.Context, userID string) (*repository.User, error) {
	user, ok := r.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return user, nil
}

func (r *fakeRepo) CreatePostRecord(_ context.Context, record *repository.PostRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record.CreatedAt = time.Now().UTC()
	r.records = append(r.records, *record)
	return nil
}

func (r *fakeRepo) ListUserPosts(_ context.Context, userID string) ([]repository.PostRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.PostRecord
	for _, record := range r.records {
		if record.UserID == userID && record.DeletedAt == nil {
			out = append(out, record)
		}
	}
	return out, nil
}

type fakeVault struct{}

func (fakeVault) Decrypt(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, "v1:") {
		return "", errors.New("invalid ciphertext")
	}
	return "app-password", nil
}

type fakeEmbedder struct {
	calls atomic.Int32
	err   error
}

func (e *fakeEmbedder) Embed(_ context.Context, image []byte, _ string) ([]byte, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return append([]byte("wm:"), image...), nil
}

type fakeSocial struct {
	mu          sync.Mutex
	loggedIn    bool
	blobUploads int
	createCalls int
	createErr   error
	lastRecord  bluesky.PostRecord
}

func (s *fakeSocial) Login(_ context.Context, identifier, password string) error {
	if identifier == "" || password == "" {
		return errors.New("missing credentials")
	}
	s.loggedIn = true
	return nil
}

func (s *fakeSocial) ResolveHandle(_ context.Context, handle string) (string, error) {
	return "did:plc:" + handle, nil
}

func (s *fakeSocial) UploadBlob(_ context.Context, data []byte, mimeType string) (*bluesky.BlobRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loggedIn {
		return nil, errors.New("not authenticated")
	}
	s.blobUploads++
	blob := &bluesky.BlobRef{Type: "blob", MimeType: mimeType, Size: len(data)}
	blob.Ref.Link = fmt.Sprintf("bafy%d", s.blobUploads)
	return blob, nil
}

func (s *fakeSocial) CreatePost(_ context.Context, record bluesky.PostRecord) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", "", s.createErr
	}
	s.createCalls++
	s.lastRecord = record
	return "at://did:plc:alice/app.bsky.feed.post/3k2a", "bafycid", nil
}

type fakeCDN struct {
	purged chan string
}

func (c *fakeCDN) Invalidate(_ context.Context, path string) error {
	select {
	case c.purged <- path:
	default:
	}
	return nil
}

type testEnv struct {
	store    *fakeStore
	tracker  *fakeTracker
	repo     *fakeRepo
	embedder *fakeEmbedder
	social   *fakeSocial
	cdn      *fakeCDN
	orch     *Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	env := &testEnv{
		store:    newFakeStore(),
		tracker:  newFakeTracker(),
		embedder: &fakeEmbedder{},
		social:   &fakeSocial{},
		cdn:      &fakeCDN{purged: make(chan string, 1)},
	}
	env.repo = &fakeRepo{users: map[string]*repository.User{
		"user-1": {
			UserID:               "user-1",
			Handle:               "alice.example",
			CredentialCiphertext: "v1:local:sealed",
			ProvenancePageID:     "pg-1",
		},
	}}
	env.orch = NewOrchestrator(Options{
		Store:        env.store,
		Tracker:      env.tracker,
		Repo:         env.repo,
		Vault:        fakeVault{},
		NewSocial:    func() SocialClient { return env.social },
		Embedder:     env.embedder,
		Renderer:     render.NewRenderer(),
		CDN:          env.cdn,
		PublicBucket: "public",
		AppName:      "brw",
	}, zaptest.NewLogger(t))
	return env
}

// seedSubmission writes post.json and one object per image into the posts
// bucket, matching what the API service stores.
func (env *testEnv) seedSubmission(t *testing.T, imageCount int) []models.ImageMetadata {
	t.Helper()

	images := make([]models.ImageMetadata, 0, imageCount)
	for i := 1; i <= imageCount; i++ {
		images = append(images, models.ImageMetadata{
			Index:     i,
			Format:    "png",
			Extension: "png",
			AltText:   fmt.Sprintf("image %d", i),
		})
		env.store.put("posts", fmt.Sprintf("abc123/image%d.png", i), []byte(fmt.Sprintf("png-bytes-%d", i)))
	}

	submission := models.PostSubmission{
		PostID:        "abc123",
		UserID:        "user-1",
		Text:          "new piece #art https://x.example/p?a=1.",
		ContentLabels: []string{"graphic-media"},
		ImageMetadata: images,
		CreatedAt:     time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(submission)
	if err != nil {
		t.Fatalf("marshal submission: %v", err)
	}
	env.store.put("posts", "abc123/post.json", data)
	return images
}

func basePayload(images []models.ImageMetadata) *Payload {
	return &Payload{
		PostID:    "abc123",
		UserID:    "user-1",
		Bucket:    "posts",
		Timestamp: time.Now().UTC(),
		Images:    images,
	}
}

func TestRunSuccess(t *testing.T) {
	for imageCount := 1; imageCount <= MaxImageCount; imageCount++ {
		t.Run(fmt.Sprintf("%d_images", imageCount), func(t *testing.T) {
			env := newTestEnv(t)
			images := env.seedSubmission(t, imageCount)
			p := basePayload(images)

			if err := env.orch.Run(context.Background(), p); err != nil {
				t.Fatalf("Run failed: %v", err)
			}

			if got := int(env.embedder.calls.Load()); got != imageCount {
				t.Errorf("expected %d embed calls, got %d", imageCount, got)
			}
			if env.social.blobUploads != imageCount {
				t.Errorf("expected %d blob uploads, got %d", imageCount, env.social.blobUploads)
			}
			if env.social.createCalls != 1 {
				t.Errorf("expected exactly one post creation, got %d", env.social.createCalls)
			}
			if len(env.repo.records) != 1 {
				t.Fatalf("expected exactly one post record, got %d", len(env.repo.records))
			}

			record := env.tracker.last("abc123")
			if record == nil || record.Status != progress.StatusCompleted || record.Progress != 100 {
				t.Errorf("unexpected final progress record: %+v", record)
			}
			if record.Message != "Post published" {
				t.Errorf("unexpected final message: %q", record.Message)
			}

			if p.ExternalPostURI != "at://did:plc:alice/app.bsky.feed.post/3k2a" {
				t.Errorf("unexpected external uri: %q", p.ExternalPostURI)
			}
			if p.ExternalPostID != "3k2a" {
				t.Errorf("unexpected record key: %q", p.ExternalPostID)
			}
			if p.ProvenanceURL != "https://cdn.example/public/provenance/abc123/index.html" {
				t.Errorf("unexpected provenance url: %q", p.ProvenanceURL)
			}
			if p.UserListURL != "https://cdn.example/public/users/pg-1.html" {
				t.Errorf("unexpected user list url: %q", p.UserListURL)
			}
			if p.TotalPosts != 1 {
				t.Errorf("expected total posts 1, got %d", p.TotalPosts)
			}

			select {
			case path := <-env.cdn.purged:
				if path != "/users/pg-1.html" {
					t.Errorf("unexpected purge path: %q", path)
				}
			case <-time.After(2 * time.Second):
				t.Error("cache invalidation never happened")
			}
		})
	}
}

func TestRunWatermarksBeforePublishing(t *testing.T) {
	env := newTestEnv(t)
	images := env.seedSubmission(t, 2)

	if err := env.orch.Run(context.Background(), basePayload(images)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The publish step reads the stored objects after the fan-out rewrote
	// them, so every uploaded blob must carry the watermark prefix.
	for i := 1; i <= 2; i++ {
		data, err := env.store.Download("posts", fmt.Sprintf("abc123/image%d.png", i))
		if err != nil {
			t.Fatalf("download image %d: %v", i, err)
		}
		if !strings.HasPrefix(string(data), "wm:") {
			t.Errorf("image %d was published unwatermarked: %q", i, data)
		}
	}
}

func TestRunNoImages(t *testing.T) {
	env := newTestEnv(t)
	env.seedSubmission(t, 0)

	if err := env.orch.Run(context.Background(), basePayload(nil)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if env.embedder.calls.Load() != 0 || env.social.createCalls != 0 || len(env.repo.records) != 0 {
		t.Error("image-less post must not touch the embedder, Bluesky, or the database")
	}
	record := env.tracker.last("abc123")
	if record == nil || record.Status != progress.StatusCompleted || record.Message != "Nothing to publish" {
		t.Errorf("unexpected final record: %+v", record)
	}
}

func TestRunTooManyImages(t *testing.T) {
	env := newTestEnv(t)
	images := env.seedSubmission(t, MaxImageCount+1)

	if err := env.orch.Run(context.Background(), basePayload(images)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if env.social.createCalls != 0 {
		t.Error("over-limit post must not publish")
	}
	record := env.tracker.last("abc123")
	if record == nil || record.Status != progress.StatusCompleted || record.Message != "Nothing to publish" {
		t.Errorf("unexpected final record: %+v", record)
	}
}

func TestRunWatermarkFailureIsFailFast(t *testing.T) {
	env := newTestEnv(t)
	images := env.seedSubmission(t, 3)
	env.embedder.err = errors.New("embedder unavailable")

	err := env.orch.Run(context.Background(), basePayload(images))
	if err == nil {
		t.Fatal("expected Run to fail")
	}

	if env.social.createCalls != 0 || len(env.repo.records) != 0 {
		t.Error("failed watermarking must not reach the publish step")
	}
	record := env.tracker.last("abc123")
	if record == nil || record.Status != progress.StatusError {
		t.Fatalf("expected error record, got %+v", record)
	}
	if record.Progress != 20 || record.Message != "Watermark embedding failed" {
		t.Errorf("unexpected error record: %+v", record)
	}
}

func TestRunPublishFailure(t *testing.T) {
	env := newTestEnv(t)
	images := env.seedSubmission(t, 1)
	env.social.createErr = errors.New("pds is down")

	err := env.orch.Run(context.Background(), basePayload(images))
	if err == nil {
		t.Fatal("expected Run to fail")
	}

	if len(env.repo.records) != 0 {
		t.Error("no post record may exist when the publish failed")
	}
	record := env.tracker.last("abc123")
	if record == nil || record.Status != progress.StatusError {
		t.Fatalf("expected error record, got %+v", record)
	}
	if record.Progress != 40 || record.Message != "Bluesky posting failed" {
		t.Errorf("unexpected error record: %+v", record)
	}
	if !strings.Contains(record.Error, "pds is down") {
		t.Errorf("error cause missing from record: %q", record.Error)
	}
}

func TestRunUnknownUser(t *testing.T) {
	env := newTestEnv(t)
	images := env.seedSubmission(t, 1)
	delete(env.repo.users, "user-1")

	if err := env.orch.Run(context.Background(), basePayload(images)); err == nil {
		t.Fatal("expected Run to fail for an unknown user")
	}
	if env.social.createCalls != 0 {
		t.Error("must not publish without a configured user")
	}
}

func TestRunPublishedRecordShape(t *testing.T) {
	env := newTestEnv(t)
	images := env.seedSubmission(t, 1)

	if err := env.orch.Run(context.Background(), basePayload(images)); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	record := env.social.lastRecord
	if record.Text != "new piece #art https://x.example/p?a=1." {
		t.Errorf("unexpected post text: %q", record.Text)
	}
	if len(record.Facets) != 2 {
		t.Errorf("expected tag and link facets, got %+v", record.Facets)
	}
	if record.Labels == nil || len(record.Labels.Values) != 1 || record.Labels.Values[0].Val != "graphic-media" {
		t.Errorf("unexpected labels: %+v", record.Labels)
	}
	if record.Embed == nil || len(record.Embed.Images) != 1 {
		t.Fatalf("unexpected embed: %+v", record.Embed)
	}
	if record.Embed.Images[0].Alt != "image 1" {
		t.Errorf("alt text lost: %+v", record.Embed.Images[0])
	}
}

func TestRunInvalidPayload(t *testing.T) {
	env := newTestEnv(t)
	if err := env.orch.Run(context.Background(), &Payload{}); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestTriggerStartsPipeline(t *testing.T) {
	env := newTestEnv(t)
	env.seedSubmission(t, 2)
	trigger := NewTrigger(env.store, env.tracker, env.orch, zaptest.NewLogger(t))

	event := &kafka.PostEvent{PostID: "abc123", UserID: "user-1", Bucket: "posts", Timestamp: time.Now().Unix()}
	if err := trigger.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if env.social.createCalls != 1 {
		t.Errorf("expected one publish, got %d", env.social.createCalls)
	}
	record := env.tracker.last("abc123")
	if record == nil || record.Status != progress.StatusCompleted {
		t.Errorf("unexpected final record: %+v", record)
	}
}

func TestTriggerSkipsRedeliveredEvent(t *testing.T) {
	env := newTestEnv(t)
	env.seedSubmission(t, 2)
	trigger := NewTrigger(env.store, env.tracker, env.orch, zaptest.NewLogger(t))

	// A record past "starting" means a previous execution may already have
	// published; the redelivered event must be acknowledged without running.
	if err := env.tracker.Update(context.Background(), "abc123", progress.StatusPosting, 40, "posting"); err != nil {
		t.Fatalf("seed progress: %v", err)
	}

	event := &kafka.PostEvent{PostID: "abc123", UserID: "user-1", Bucket: "posts", Timestamp: time.Now().Unix()}
	if err := trigger.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if env.embedder.calls.Load() != 0 || env.social.createCalls != 0 {
		t.Error("redelivered event must not start a second execution")
	}
}

func TestTriggerRerunsFromStarting(t *testing.T) {
	env := newTestEnv(t)
	env.seedSubmission(t, 1)
	trigger := NewTrigger(env.store, env.tracker, env.orch, zaptest.NewLogger(t))

	// "starting" means the previous execution died before the publish step,
	// so a redelivery is safe to run.
	if err := env.tracker.Update(context.Background(), "abc123", progress.StatusStarting, 0, "Starting processing"); err != nil {
		t.Fatalf("seed progress: %v", err)
	}

	event := &kafka.PostEvent{PostID: "abc123", UserID: "user-1", Bucket: "posts", Timestamp: time.Now().Unix()}
	if err := trigger.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if env.social.createCalls != 1 {
		t.Errorf("expected the rerun to publish, got %d creates", env.social.createCalls)
	}
}

func TestTriggerInvalidEvent(t *testing.T) {
	env := newTestEnv(t)
	trigger := NewTrigger(env.store, env.tracker, env.orch, zaptest.NewLogger(t))

	err := trigger.Handle(context.Background(), &kafka.PostEvent{PostID: "", Bucket: "posts"})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestTriggerMissingSubmission(t *testing.T) {
	env := newTestEnv(t)
	trigger := NewTrigger(env.store, env.tracker, env.orch, zaptest.NewLogger(t))

	event := &kafka.PostEvent{PostID: "ghost", UserID: "user-1", Bucket: "posts", Timestamp: time.Now().Unix()}
	if err := trigger.Handle(context.Background(), event); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	record := env.tracker.last("ghost")
	if record == nil || record.Status != progress.StatusCompleted || record.Message != "Nothing to publish" {
		t.Errorf("unexpected final record: %+v", record)
	}
	if env.social.createCalls != 0 {
		t.Error("a post without a submission must not publish")
	}
}
