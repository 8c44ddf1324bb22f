package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/streamvault/streamvault/internal/auth"
	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/devices"
	"github.com/streamvault/streamvault/internal/keys"
	"github.com/streamvault/streamvault/internal/playback"
	"github.com/streamvault/streamvault/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Fake object store

type fakeObjects struct {
	presignedURL string
	presignErr   error
	headSize     int64
	headErr      error
}

func (f *fakeObjects) GeneratePresignedURL(ctx context.Context, bucket, key, contentType string, lifetime time.Duration) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return f.presignedURL, nil
}

func (f *fakeObjects) HeadObject(ctx context.Context, bucket, key string) (int64, error) {
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.headSize, nil
}

// Fake job queue

type fakeQueue struct {
	jobs       []*models.TranscodeJob
	enqueueErr error
}

func (f *fakeQueue) Enqueue(ctx context.Context, job *models.TranscodeJob) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.jobs = append(f.jobs, job)
	return nil
}

// Fake asset store

type fakeAssets struct {
	assets    map[string]*models.VideoAsset
	qualities map[string][]models.VideoQuality
	createErr error
}

func newFakeAssets() *fakeAssets {
	return &fakeAssets{
		assets:    make(map[string]*models.VideoAsset),
		qualities: make(map[string][]models.VideoQuality),
	}
}

func (f *fakeAssets) CreateAsset(ctx context.Context, assetID, lessonID, filename, sourceBucket, sourceKey string, fileSizeBytes int64) (*models.VideoAsset, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	asset := &models.VideoAsset{
		AssetID:       assetID,
		LessonID:      lessonID,
		Filename:      filename,
		Status:        models.StatusPending,
		SourceBucket:  sourceBucket,
		SourceKey:     sourceKey,
		FileSizeBytes: fileSizeBytes,
	}
	f.assets[assetID] = asset
	return asset, nil
}

func (f *fakeAssets) GetAsset(ctx context.Context, assetID string) (*models.VideoAsset, error) {
	asset, ok := f.assets[assetID]
	if !ok {
		return nil, models.ErrAssetNotFound
	}
	return asset, nil
}

func (f *fakeAssets) ListQualities(ctx context.Context, assetID string) ([]models.VideoQuality, error) {
	return f.qualities[assetID], nil
}

func (f *fakeAssets) DeleteAsset(ctx context.Context, assetID string) error {
	if _, ok := f.assets[assetID]; !ok {
		return models.ErrAssetNotFound
	}
	delete(f.assets, assetID)
	delete(f.qualities, assetID)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "dev",
		AWS: config.AWSConfig{
			Region:    "us-west-2",
			RawBucket: "raw-bucket",
		},
		API: config.APIConfig{
			Port: "8080",
		},
	}
}

type testDeps struct {
	objects *fakeObjects
	queue   *fakeQueue
	assets  *fakeAssets
}

func newTestHandlers(t *testing.T) (*Handlers, *testDeps) {
	t.Helper()

	jwtService, err := auth.NewJWTService([]byte("test-jwt-secret-test-jwt-secret"))
	if err != nil {
		t.Fatalf("NewJWTService() error = %v", err)
	}

	deps := &testDeps{
		objects: &fakeObjects{presignedURL: "https://s3.example.com/presigned", headSize: 1024},
		queue:   &fakeQueue{},
		assets:  newFakeAssets(),
	}

	h := NewHandlers(&HandlersConfig{
		Config:     testConfig(),
		Logger:     testLogger(),
		Objects:    deps.objects,
		Queue:      deps.queue,
		Assets:     deps.assets,
		JWTService: jwtService,
	})
	return h, deps
}

func authedRequest(r *http.Request, userID string) *http.Request {
	claims := &auth.Claims{Username: userID, UserID: userID}
	return r.WithContext(auth.SetClaimsInContext(r.Context(), claims))
}

func TestValidateFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		wantErr  bool
	}{
		{"valid mp4", "video.mp4", false},
		{"valid mov", "my_video.mov", false},
		{"valid avi", "test.avi", false},
		{"valid mkv", "movie.mkv", false},
		{"valid webm", "clip.webm", false},
		{"empty filename", "", true},
		{"invalid extension", "video.txt", true},
		{"no extension", "video", true},
		{"uppercase extension", "video.MP4", false}, // Should be case-insensitive
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFilename(tt.filename)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateFilename(%q) error = %v, wantErr %v", tt.filename, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFilename_TooLong(t *testing.T) {
	longFilename := make([]byte, MaxFilenameLength+10)
	for i := range longFilename {
		longFilename[i] = 'a'
	}
	longFilename = append(longFilename, '.', 'm', 'p', '4')

	err := validateFilename(string(longFilename))
	if err == nil {
		t.Error("validateFilename() expected error for long filename")
	}
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		wantErr     bool
	}{
		{"valid mp4", "video/mp4", false},
		{"valid quicktime", "video/quicktime", false},
		{"valid avi", "video/x-msvideo", false},
		{"valid matroska", "video/x-matroska", false},
		{"valid webm", "video/webm", false},
		{"empty", "", true},
		{"invalid type", "application/pdf", true},
		{"text type", "text/plain", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateContentType(tt.contentType)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateContentType(%q) error = %v, wantErr %v", tt.contentType, err, tt.wantErr)
			}
		})
	}
}

func TestValidateSourceKey(t *testing.T) {
	assetID := "abc-123-def"

	tests := []struct {
		name    string
		key     string
		assetID string
		wantErr bool
	}{
		{"valid key", "uploads/abc-123-def.mp4", assetID, false},
		{"valid key with extension", "uploads/abc-123-def.mov", assetID, false},
		{"wrong prefix", "wrong/abc-123-def.mp4", assetID, true},
		{"path traversal", "uploads/../abc-123-def.mp4", assetID, true},
		{"encoded path traversal", "uploads/%2e%2e/abc-123-def.mp4", assetID, true},
		{"wrong asset ID", "uploads/other-id.mp4", assetID, true},
		{"invalid extension", "uploads/abc-123-def.exe", assetID, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSourceKey(tt.key, tt.assetID)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateSourceKey(%q, %q) error = %v, wantErr %v", tt.key, tt.assetID, err, tt.wantErr)
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	allowedOrigins := []string{"https://example.com", "https://test.com"}
	middleware := CORSMiddleware(allowedOrigins)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Origin", "https://example.com")
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://example.com" {
			t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "https://example.com")
		}
	})

	t.Run("disallowed origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/test", nil)
		req.Header.Set("Origin", "https://malicious.com")
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("preflight request", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/test", nil)
		req.Header.Set("Origin", "https://example.com")
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusNoContent {
			t.Errorf("Status = %d, want %d", rr.Code, http.StatusNoContent)
		}
	})
}

func TestIsInternalRequest(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       bool
	}{
		{"localhost", "127.0.0.1:8080", true},
		{"10.x network", "10.0.0.1:12345", true},
		{"172.16.x network", "172.16.0.1:12345", true},
		{"192.168.x network", "192.168.1.1:12345", true},
		{"public IP", "203.0.113.1:12345", false},
		{"another public IP", "8.8.8.8:53", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isInternalRequest(tt.remoteAddr); got != tt.want {
				t.Errorf("isInternalRequest(%q) = %v, want %v", tt.remoteAddr, got, tt.want)
			}
		})
	}
}

func TestLoginHandler(t *testing.T) {
	h, _ := newTestHandlers(t)

	t.Run("valid credentials", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/login", nil)
		req.SetBasicAuth("admin", "secret")
		rr := httptest.NewRecorder()

		h.LoginHandler(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("Status = %d, want %d", rr.Code, http.StatusOK)
		}

		var resp map[string]string
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if resp["token"] == "" {
			t.Error("Response missing token")
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/login", nil)
		req.SetBasicAuth("admin", "wrong")
		rr := httptest.NewRecorder()

		h.LoginHandler(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Status = %d, want %d", rr.Code, http.StatusUnauthorized)
		}
	})

	t.Run("missing credentials", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/login", nil)
		rr := httptest.NewRecorder()

		h.LoginHandler(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("Status = %d, want %d", rr.Code, http.StatusUnauthorized)
		}
	})
}

func TestInitUploadHandler(t *testing.T) {
	h, _ := newTestHandlers(t)

	body := InitUploadRequest{
		LessonID:    "lesson-1",
		Filename:    "video.mp4",
		ContentType: "video/mp4",
	}
	bodyBytes, _ := json.Marshal(body)

	req := httptest.NewRequest("POST", "/upload/init", bytes.NewBuffer(bodyBytes))
	rr := httptest.NewRecorder()

	h.InitUploadHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp InitUploadResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.UploadURL != "https://s3.example.com/presigned" {
		t.Errorf("UploadURL = %q", resp.UploadURL)
	}
	if resp.AssetID == "" {
		t.Error("Response missing assetId")
	}
	if !strings.HasPrefix(resp.Key, "uploads/"+resp.AssetID) {
		t.Errorf("Key = %q, want prefix uploads/%s", resp.Key, resp.AssetID)
	}
	if !strings.HasSuffix(resp.Key, ".mp4") {
		t.Errorf("Key = %q, want .mp4 suffix", resp.Key)
	}
}

func TestInitUploadHandler_InvalidJSON(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest("POST", "/upload/init", bytes.NewBufferString("not json"))
	rr := httptest.NewRecorder()

	h.InitUploadHandler(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestInitUploadHandler_InvalidFilename(t *testing.T) {
	h, _ := newTestHandlers(t)

	body := InitUploadRequest{
		LessonID:    "lesson-1",
		Filename:    "video.txt", // Invalid extension
		ContentType: "video/mp4",
	}
	bodyBytes, _ := json.Marshal(body)

	req := httptest.NewRequest("POST", "/upload/init", bytes.NewBuffer(bodyBytes))
	rr := httptest.NewRecorder()

	h.InitUploadHandler(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestInitUploadHandler_MissingLessonID(t *testing.T) {
	h, _ := newTestHandlers(t)

	body := InitUploadRequest{
		Filename:    "video.mp4",
		ContentType: "video/mp4",
	}
	bodyBytes, _ := json.Marshal(body)

	req := httptest.NewRequest("POST", "/upload/init", bytes.NewBuffer(bodyBytes))
	rr := httptest.NewRecorder()

	h.InitUploadHandler(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCompleteUploadHandler(t *testing.T) {
	h, deps := newTestHandlers(t)
	deps.objects.headSize = 4096

	body := CompleteUploadRequest{
		AssetID:  "asset-1",
		LessonID: "lesson-1",
		Key:      "uploads/asset-1.mp4",
		Filename: "video.mp4",
	}
	bodyBytes, _ := json.Marshal(body)

	req := httptest.NewRequest("POST", "/upload/complete", bytes.NewBuffer(bodyBytes))
	rr := httptest.NewRecorder()

	h.CompleteUploadHandler(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("Status = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}

	if len(deps.queue.jobs) != 1 {
		t.Fatalf("Queued jobs = %d, want 1", len(deps.queue.jobs))
	}
	job := deps.queue.jobs[0]
	if job.AssetID != "asset-1" || job.LessonID != "lesson-1" {
		t.Errorf("Queued job = %+v", job)
	}
	if job.Reencode {
		t.Error("Fresh upload should not queue a re-encode")
	}

	asset, ok := deps.assets.assets["asset-1"]
	if !ok {
		t.Fatal("Asset record not created")
	}
	if asset.Status != models.StatusPending {
		t.Errorf("Asset status = %s, want %s", asset.Status, models.StatusPending)
	}
	if asset.FileSizeBytes != 4096 {
		t.Errorf("FileSizeBytes = %d, want 4096", asset.FileSizeBytes)
	}
}

func TestCompleteUploadHandler_MissingAssetID(t *testing.T) {
	h, _ := newTestHandlers(t)

	body := CompleteUploadRequest{
		LessonID: "lesson-1",
		Key:      "uploads/test.mp4",
		Filename: "test.mp4",
	}
	bodyBytes, _ := json.Marshal(body)

	req := httptest.NewRequest("POST", "/upload/complete", bytes.NewBuffer(bodyBytes))
	rr := httptest.NewRecorder()

	h.CompleteUploadHandler(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCompleteUploadHandler_SourceMissing(t *testing.T) {
	h, deps := newTestHandlers(t)
	deps.objects.headErr = models.ErrAssetNotFound

	body := CompleteUploadRequest{
		AssetID:  "asset-1",
		LessonID: "lesson-1",
		Key:      "uploads/asset-1.mp4",
		Filename: "video.mp4",
	}
	bodyBytes, _ := json.Marshal(body)

	req := httptest.NewRequest("POST", "/upload/complete", bytes.NewBuffer(bodyBytes))
	rr := httptest.NewRecorder()

	h.CompleteUploadHandler(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusNotFound)
	}
	if len(deps.queue.jobs) != 0 {
		t.Error("No job should be queued when the source is missing")
	}
}

func TestCompleteUploadHandler_LessonAlreadyHasAsset(t *testing.T) {
	h, deps := newTestHandlers(t)
	deps.assets.createErr = models.ErrAssetExists

	body := CompleteUploadRequest{
		AssetID:  "asset-2",
		LessonID: "lesson-1",
		Key:      "uploads/asset-2.mp4",
		Filename: "video.mp4",
	}
	bodyBytes, _ := json.Marshal(body)

	req := httptest.NewRequest("POST", "/upload/complete", bytes.NewBuffer(bodyBytes))
	rr := httptest.NewRecorder()

	h.CompleteUploadHandler(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusConflict)
	}
	if len(deps.queue.jobs) != 0 {
		t.Error("No job should be queued for a duplicate asset")
	}
}

func TestGetAssetHandler(t *testing.T) {
	h, deps := newTestHandlers(t)
	deps.assets.assets["asset-1"] = &models.VideoAsset{
		AssetID:  "asset-1",
		LessonID: "lesson-1",
		Status:   models.StatusCompleted,
	}
	deps.assets.qualities["asset-1"] = []models.VideoQuality{
		{Name: "1080p", Width: 1920, Height: 1080},
		{Name: "720p", Width: 1280, Height: 720},
	}

	req := httptest.NewRequest("GET", "/assets/asset-1", nil)
	req.SetPathValue("id", "asset-1")
	rr := httptest.NewRecorder()

	h.GetAssetHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp AssetResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Asset.AssetID != "asset-1" {
		t.Errorf("AssetID = %q, want asset-1", resp.Asset.AssetID)
	}
	if len(resp.Qualities) != 2 {
		t.Errorf("Qualities = %d, want 2", len(resp.Qualities))
	}
}

func TestGetAssetHandler_NotFound(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest("GET", "/assets/missing", nil)
	req.SetPathValue("id", "missing")
	rr := httptest.NewRecorder()

	h.GetAssetHandler(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestDeleteAssetHandler(t *testing.T) {
	h, deps := newTestHandlers(t)
	deps.assets.assets["asset-1"] = &models.VideoAsset{
		AssetID:  "asset-1",
		LessonID: "lesson-1",
		Status:   models.StatusFailed,
	}

	req := httptest.NewRequest("DELETE", "/assets/asset-1", nil)
	req.SetPathValue("id", "asset-1")
	rr := httptest.NewRecorder()

	h.DeleteAssetHandler(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("Status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if _, ok := deps.assets.assets["asset-1"]; ok {
		t.Error("Asset record should be gone after deletion")
	}
}

func TestDeleteAssetHandler_NotFound(t *testing.T) {
	h, _ := newTestHandlers(t)

	req := httptest.NewRequest("DELETE", "/assets/missing", nil)
	req.SetPathValue("id", "missing")
	rr := httptest.NewRecorder()

	h.DeleteAssetHandler(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

// Fake encryption store for rotation tests

type fakeEncryptions struct {
	records map[string]*models.VideoEncryption
}

func (f *fakeEncryptions) GetEncryption(ctx context.Context, assetID string) (*models.VideoEncryption, error) {
	enc, ok := f.records[assetID]
	if !ok {
		return nil, models.ErrEncryptionNotConfigured
	}
	return enc, nil
}

func (f *fakeEncryptions) UpdateEncryption(ctx context.Context, enc *models.VideoEncryption) error {
	f.records[enc.AssetID] = enc
	return nil
}

func newRotateHandlers(t *testing.T) (*Handlers, *testDeps, *fakeEncryptions) {
	t.Helper()

	h, deps := newTestHandlers(t)
	deps.assets.assets["asset-1"] = &models.VideoAsset{
		AssetID:      "asset-1",
		LessonID:     "lesson-1",
		Status:       models.StatusCompleted,
		SourceBucket: "raw-bucket",
		SourceKey:    "uploads/asset-1.mp4",
		Filename:     "video.mp4",
	}
	encryptions := &fakeEncryptions{records: map[string]*models.VideoEncryption{
		"asset-1": {
			AssetID: "asset-1",
			Scheme:  models.EncryptionSchemeAES128,
			KeyID:   "old-key-id",
			Key:     base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x11}, 16)),
		},
	}}
	h.rotator = keys.NewRotator(encryptions, deps.assets, deps.queue, testLogger())
	return h, deps, encryptions
}

func TestRotateKeyHandler_CompletedRequiresReencode(t *testing.T) {
	h, deps, _ := newRotateHandlers(t)

	bodyBytes, _ := json.Marshal(RotateKeyRequest{Reencode: false})
	req := httptest.NewRequest("POST", "/assets/asset-1/rotate", bytes.NewBuffer(bodyBytes))
	req.SetPathValue("id", "asset-1")
	rr := httptest.NewRecorder()

	h.RotateKeyHandler(rr, req)

	if rr.Code != http.StatusConflict {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusConflict)
	}
	if len(deps.queue.jobs) != 0 {
		t.Error("No job should be queued for a refused rotation")
	}
}

func TestRotateKeyHandler_ReencodeQueued(t *testing.T) {
	h, deps, encryptions := newRotateHandlers(t)

	bodyBytes, _ := json.Marshal(RotateKeyRequest{Reencode: true})
	req := httptest.NewRequest("POST", "/assets/asset-1/rotate", bytes.NewBuffer(bodyBytes))
	req.SetPathValue("id", "asset-1")
	rr := httptest.NewRecorder()

	h.RotateKeyHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp RotateKeyResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.KeyID == "old-key-id" || resp.KeyID == "" {
		t.Errorf("KeyID = %q, want a fresh key id", resp.KeyID)
	}
	if !resp.ReencodeQueued {
		t.Error("ReencodeQueued = false, want true")
	}
	if encryptions.records["asset-1"].KeyID != resp.KeyID {
		t.Error("Stored encryption row was not rotated")
	}

	if len(deps.queue.jobs) != 1 {
		t.Fatalf("Queued jobs = %d, want 1", len(deps.queue.jobs))
	}
	if !deps.queue.jobs[0].Reencode {
		t.Error("Queued job should be a re-encode")
	}
}

func TestRotateKeyHandler_AssetNotFound(t *testing.T) {
	h, _, _ := newRotateHandlers(t)

	req := httptest.NewRequest("POST", "/assets/missing/rotate", nil)
	req.SetPathValue("id", "missing")
	rr := httptest.NewRecorder()

	h.RotateKeyHandler(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

// Playback fakes wired through the real authorizer

type fakeLessons struct {
	lessons map[string]*models.Lesson
}

func (f *fakeLessons) GetLesson(ctx context.Context, lessonID string) (*models.Lesson, error) {
	lesson, ok := f.lessons[lessonID]
	if !ok {
		return nil, models.ErrLessonNotFound
	}
	return lesson, nil
}

type fakeEnrollments struct {
	status models.EnrollmentStatus
}

func (f *fakeEnrollments) GetEnrollmentStatus(ctx context.Context, userID, courseID string) (models.EnrollmentStatus, error) {
	return f.status, nil
}

type fakeAssetDirectory struct {
	assets *fakeAssets
	byLess map[string]string
}

func (f *fakeAssetDirectory) GetAssetByLesson(ctx context.Context, lessonID string) (*models.VideoAsset, error) {
	assetID, ok := f.byLess[lessonID]
	if !ok {
		return nil, models.ErrAssetNotFound
	}
	return f.assets.GetAsset(ctx, assetID)
}

type fakeRegistry struct {
	activeDevices int
}

func (f *fakeRegistry) IsActive(ctx context.Context, userID, deviceID string) (bool, error) {
	return false, nil
}

func (f *fakeRegistry) CountActive(ctx context.Context, userID string) (int, error) {
	return f.activeDevices, nil
}

func (f *fakeRegistry) Register(ctx context.Context, userID, deviceID, name, class string) (*models.DeviceSession, error) {
	return &models.DeviceSession{SessionID: "session-1", UserID: userID, DeviceID: deviceID, IsActive: true}, nil
}

type fakeTokens struct {
	records []*models.SignedURL
}

func (f *fakeTokens) PutSignedURL(ctx context.Context, record *models.SignedURL) error {
	f.records = append(f.records, record)
	return nil
}

func newPlaybackHandlers(t *testing.T, enrollment models.EnrollmentStatus, registry *fakeRegistry) (*Handlers, *testDeps) {
	t.Helper()

	h, deps := newTestHandlers(t)
	deps.assets.assets["asset-1"] = &models.VideoAsset{
		AssetID:  "asset-1",
		LessonID: "lesson-1",
		Status:   models.StatusCompleted,
	}

	h.authorizer = playback.NewAuthorizer(&playback.AuthorizerConfig{
		Lessons:       &fakeLessons{lessons: map[string]*models.Lesson{"lesson-1": {LessonID: "lesson-1", CourseID: "course-1"}}},
		Enrollments:   &fakeEnrollments{status: enrollment},
		Assets:        &fakeAssetDirectory{assets: deps.assets, byLess: map[string]string{"lesson-1": "asset-1"}},
		Devices:       registry,
		Tokens:        &fakeTokens{},
		Minter:        playback.NewTokenMinter("test-playback-secret"),
		StreamBaseURL: "https://stream.example.com",
		TokenTTL:      4 * time.Hour,
		DeviceLimit:   3,
		Logger:        testLogger(),
	})
	return h, deps
}

func TestPlaybackHandler(t *testing.T) {
	h, _ := newPlaybackHandlers(t, models.EnrollmentActive, &fakeRegistry{})

	bodyBytes, _ := json.Marshal(PlaybackHandlerRequest{LessonID: "lesson-1"})
	req := httptest.NewRequest("POST", "/playback", bytes.NewBuffer(bodyBytes))
	req.Header.Set("X-Device-ID", "device-1")
	req = authedRequest(req, "alice")
	rr := httptest.NewRecorder()

	h.PlaybackHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var grant playback.PlaybackGrant
	if err := json.NewDecoder(rr.Body).Decode(&grant); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !strings.HasPrefix(grant.URL, "https://stream.example.com/asset-1/index.m3u8?token=") {
		t.Errorf("URL = %q", grant.URL)
	}
	if grant.Token == "" {
		t.Error("Grant missing token")
	}
}

func TestPlaybackHandler_MissingClaims(t *testing.T) {
	h, _ := newPlaybackHandlers(t, models.EnrollmentActive, &fakeRegistry{})

	bodyBytes, _ := json.Marshal(PlaybackHandlerRequest{LessonID: "lesson-1"})
	req := httptest.NewRequest("POST", "/playback", bytes.NewBuffer(bodyBytes))
	req.Header.Set("X-Device-ID", "device-1")
	rr := httptest.NewRecorder()

	h.PlaybackHandler(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestPlaybackHandler_MissingDeviceID(t *testing.T) {
	h, _ := newPlaybackHandlers(t, models.EnrollmentActive, &fakeRegistry{})

	bodyBytes, _ := json.Marshal(PlaybackHandlerRequest{LessonID: "lesson-1"})
	req := httptest.NewRequest("POST", "/playback", bytes.NewBuffer(bodyBytes))
	req = authedRequest(req, "alice")
	rr := httptest.NewRecorder()

	h.PlaybackHandler(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestPlaybackHandler_NotEnrolled(t *testing.T) {
	h, _ := newPlaybackHandlers(t, models.EnrollmentNone, &fakeRegistry{})

	bodyBytes, _ := json.Marshal(PlaybackHandlerRequest{LessonID: "lesson-1"})
	req := httptest.NewRequest("POST", "/playback", bytes.NewBuffer(bodyBytes))
	req.Header.Set("X-Device-ID", "device-1")
	req = authedRequest(req, "alice")
	rr := httptest.NewRecorder()

	h.PlaybackHandler(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusForbidden)
	}
}

func TestPlaybackHandler_DeviceLimit(t *testing.T) {
	h, _ := newPlaybackHandlers(t, models.EnrollmentActive, &fakeRegistry{activeDevices: 3})

	bodyBytes, _ := json.Marshal(PlaybackHandlerRequest{LessonID: "lesson-1"})
	req := httptest.NewRequest("POST", "/playback", bytes.NewBuffer(bodyBytes))
	req.Header.Set("X-Device-ID", "device-4")
	req = authedRequest(req, "alice")
	rr := httptest.NewRecorder()

	h.PlaybackHandler(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
}

// Key delivery through the real key service

type fakeGrantStore struct {
	records map[string]*models.SignedURL
}

func (f *fakeGrantStore) GetSignedURL(ctx context.Context, token string) (*models.SignedURL, error) {
	record, ok := f.records[token]
	if !ok {
		return nil, models.ErrInvalidToken
	}
	return record, nil
}

func (f *fakeGrantStore) MarkUsed(ctx context.Context, token string) error {
	return nil
}

type fakeEncryptionReader struct {
	records map[string]*models.VideoEncryption
}

func (f *fakeEncryptionReader) GetEncryption(ctx context.Context, assetID string) (*models.VideoEncryption, error) {
	enc, ok := f.records[assetID]
	if !ok {
		return nil, models.ErrEncryptionNotConfigured
	}
	return enc, nil
}

func newKeyDeliveryHandlers(t *testing.T, ttl time.Duration) (*Handlers, string, []byte) {
	t.Helper()

	h, _ := newTestHandlers(t)

	minter := playback.NewTokenMinter("test-playback-secret")
	issuedAt := time.Now().UTC().Add(-time.Minute)
	token := minter.Mint("asset-1", "alice", "device-1", issuedAt)
	key := bytes.Repeat([]byte{0x5C}, 16)

	grants := &fakeGrantStore{records: map[string]*models.SignedURL{
		token: {
			Token:     token,
			AssetID:   "asset-1",
			UserID:    "alice",
			DeviceID:  "device-1",
			CreatedAt: issuedAt.Format(time.RFC3339),
			ExpiresAt: issuedAt.Add(ttl).Format(time.RFC3339),
		},
	}}
	encryptions := &fakeEncryptionReader{records: map[string]*models.VideoEncryption{
		"asset-1": {
			AssetID: "asset-1",
			Scheme:  models.EncryptionSchemeAES128,
			KeyID:   "key-1",
			Key:     base64.StdEncoding.EncodeToString(key),
		},
	}}

	h.keyService = playback.NewKeyService(grants, encryptions, minter, testLogger())
	return h, token, key
}

func TestKeyDeliveryHandler(t *testing.T) {
	h, token, key := newKeyDeliveryHandlers(t, 4*time.Hour)

	req := httptest.NewRequest("GET", "/keys/key-1?token="+token, nil)
	req.SetPathValue("keyID", "key-1")
	rr := httptest.NewRecorder()

	h.KeyDeliveryHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "application/octet-stream" {
		t.Errorf("Content-Type = %q, want application/octet-stream", got)
	}
	if got := rr.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if !bytes.Equal(rr.Body.Bytes(), key) {
		t.Error("Response body does not match key material")
	}
}

func TestKeyDeliveryHandler_MissingToken(t *testing.T) {
	h, _, _ := newKeyDeliveryHandlers(t, 4*time.Hour)

	req := httptest.NewRequest("GET", "/keys/key-1", nil)
	req.SetPathValue("keyID", "key-1")
	rr := httptest.NewRecorder()

	h.KeyDeliveryHandler(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestKeyDeliveryHandler_UnknownToken(t *testing.T) {
	h, _, _ := newKeyDeliveryHandlers(t, 4*time.Hour)

	req := httptest.NewRequest("GET", "/keys/key-1?token=bogus", nil)
	req.SetPathValue("keyID", "key-1")
	rr := httptest.NewRecorder()

	h.KeyDeliveryHandler(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestKeyDeliveryHandler_ExpiredToken(t *testing.T) {
	h, token, _ := newKeyDeliveryHandlers(t, 30*time.Second)

	req := httptest.NewRequest("GET", "/keys/key-1?token="+token, nil)
	req.SetPathValue("keyID", "key-1")
	rr := httptest.NewRecorder()

	h.KeyDeliveryHandler(rr, req)

	if rr.Code != http.StatusGone {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusGone)
	}
}

func TestKeyDeliveryHandler_RotatedKeyID(t *testing.T) {
	h, token, _ := newKeyDeliveryHandlers(t, 4*time.Hour)

	req := httptest.NewRequest("GET", "/keys/old-key-id?token="+token, nil)
	req.SetPathValue("keyID", "old-key-id")
	rr := httptest.NewRecorder()

	h.KeyDeliveryHandler(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

// Device endpoints through the real tracker

type fakeDeviceStore struct {
	sessions map[string]*models.DeviceSession
}

func (f *fakeDeviceStore) key(userID, deviceID string) string {
	return userID + "/" + deviceID
}

func (f *fakeDeviceStore) GetSession(ctx context.Context, userID, deviceID string) (*models.DeviceSession, error) {
	session, ok := f.sessions[f.key(userID, deviceID)]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return session, nil
}

func (f *fakeDeviceStore) PutSession(ctx context.Context, session *models.DeviceSession) error {
	f.sessions[f.key(session.UserID, session.DeviceID)] = session
	return nil
}

func (f *fakeDeviceStore) TouchSession(ctx context.Context, userID, deviceID string) error {
	session, ok := f.sessions[f.key(userID, deviceID)]
	if !ok {
		return models.ErrSessionNotFound
	}
	session.IsActive = true
	return nil
}

func (f *fakeDeviceStore) ListSessions(ctx context.Context, userID string) ([]models.DeviceSession, error) {
	var result []models.DeviceSession
	for _, session := range f.sessions {
		if session.UserID == userID {
			result = append(result, *session)
		}
	}
	return result, nil
}

func (f *fakeDeviceStore) CountActive(ctx context.Context, userID string) (int, error) {
	count := 0
	for _, session := range f.sessions {
		if session.UserID == userID && session.IsActive {
			count++
		}
	}
	return count, nil
}

func (f *fakeDeviceStore) DeactivateSession(ctx context.Context, userID, sessionID string) error {
	for _, session := range f.sessions {
		if session.UserID == userID && session.SessionID == sessionID {
			session.IsActive = false
			return nil
		}
	}
	return models.ErrSessionNotFound
}

func newDeviceHandlers(t *testing.T) (*Handlers, *fakeDeviceStore) {
	t.Helper()

	h, _ := newTestHandlers(t)
	store := &fakeDeviceStore{sessions: make(map[string]*models.DeviceSession)}
	h.tracker = devices.NewTracker(store, testLogger())
	return h, store
}

func TestListDevicesHandler(t *testing.T) {
	h, store := newDeviceHandlers(t)
	store.sessions["alice/device-1"] = &models.DeviceSession{
		SessionID: "session-1",
		UserID:    "alice",
		DeviceID:  "device-1",
		IsActive:  true,
	}

	req := httptest.NewRequest("GET", "/devices", nil)
	req = authedRequest(req, "alice")
	rr := httptest.NewRecorder()

	h.ListDevicesHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", rr.Code, http.StatusOK)
	}

	var resp struct {
		Devices []models.DeviceSession `json:"devices"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Devices) != 1 {
		t.Errorf("Devices = %d, want 1", len(resp.Devices))
	}
}

func TestListDevicesHandler_Empty(t *testing.T) {
	h, _ := newDeviceHandlers(t)

	req := httptest.NewRequest("GET", "/devices", nil)
	req = authedRequest(req, "alice")
	rr := httptest.NewRecorder()

	h.ListDevicesHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), `"devices":[]`) {
		t.Errorf("Body = %s, want empty devices array", rr.Body.String())
	}
}

func TestDeactivateDeviceHandler(t *testing.T) {
	h, store := newDeviceHandlers(t)
	store.sessions["alice/device-1"] = &models.DeviceSession{
		SessionID: "session-1",
		UserID:    "alice",
		DeviceID:  "device-1",
		IsActive:  true,
	}

	req := httptest.NewRequest("DELETE", "/devices/session-1", nil)
	req.SetPathValue("sessionID", "session-1")
	req = authedRequest(req, "alice")
	rr := httptest.NewRecorder()

	h.DeactivateDeviceHandler(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("Status = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if store.sessions["alice/device-1"].IsActive {
		t.Error("Session should be inactive after deactivation")
	}
}

func TestDeactivateDeviceHandler_NotFound(t *testing.T) {
	h, _ := newDeviceHandlers(t)

	req := httptest.NewRequest("DELETE", "/devices/missing", nil)
	req.SetPathValue("sessionID", "missing")
	req = authedRequest(req, "alice")
	rr := httptest.NewRecorder()

	h.DeactivateDeviceHandler(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}
