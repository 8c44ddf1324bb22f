package config

import (
	"os"
	"testing"
	"time"
)

func setRequiredAPIEnv(t *testing.T) {
	t.Helper()
	t.Setenv("S3_BUCKET", "raw-bucket")
	t.Setenv("SQS_QUEUE_URL", "https://sqs.example.com/queue")
	t.Setenv("DYNAMODB_TABLE", "vault-table")
	t.Setenv("STREAM_BASE_URL", "https://cdn.example.com/streams")
}

func TestLoadAPI_Valid(t *testing.T) {
	setRequiredAPIEnv(t)

	cfg, err := LoadAPI()
	if err != nil {
		t.Fatalf("LoadAPI() error = %v", err)
	}

	if cfg.AWS.RawBucket != "raw-bucket" {
		t.Errorf("RawBucket = %s, want raw-bucket", cfg.AWS.RawBucket)
	}
	if cfg.API.Port != DefaultPort {
		t.Errorf("Port = %s, want %s", cfg.API.Port, DefaultPort)
	}
	if cfg.Playback.TokenTTL != DefaultTokenTTL {
		t.Errorf("TokenTTL = %v, want %v", cfg.Playback.TokenTTL, DefaultTokenTTL)
	}
	if cfg.Playback.DeviceLimit != DefaultDeviceLimit {
		t.Errorf("DeviceLimit = %d, want %d", cfg.Playback.DeviceLimit, DefaultDeviceLimit)
	}
}

func TestLoadAPI_MissingRequired(t *testing.T) {
	t.Setenv("S3_BUCKET", "")
	t.Setenv("SQS_QUEUE_URL", "")
	t.Setenv("DYNAMODB_TABLE", "")
	t.Setenv("STREAM_BASE_URL", "")

	_, err := LoadAPI()
	if err == nil {
		t.Fatal("LoadAPI() expected error for missing configuration")
	}
}

func TestLoadWorker_Valid(t *testing.T) {
	t.Setenv("S3_BUCKET", "raw-bucket")
	t.Setenv("PACKAGED_BUCKET", "packaged-bucket")
	t.Setenv("SQS_QUEUE_URL", "https://sqs.example.com/queue")
	t.Setenv("DYNAMODB_TABLE", "vault-table")
	t.Setenv("KEY_DELIVERY_BASE_URL", "https://api.example.com")

	cfg, err := LoadWorker()
	if err != nil {
		t.Fatalf("LoadWorker() error = %v", err)
	}

	if cfg.AWS.PackagedBucket != "packaged-bucket" {
		t.Errorf("PackagedBucket = %s, want packaged-bucket", cfg.AWS.PackagedBucket)
	}
	if cfg.Worker.MaxConcurrentJobs != DefaultMaxConcurrentJobs {
		t.Errorf("MaxConcurrentJobs = %d, want %d", cfg.Worker.MaxConcurrentJobs, DefaultMaxConcurrentJobs)
	}
}

func TestLoadWorker_MissingKeyDeliveryBase(t *testing.T) {
	t.Setenv("S3_BUCKET", "raw-bucket")
	t.Setenv("PACKAGED_BUCKET", "packaged-bucket")
	t.Setenv("SQS_QUEUE_URL", "https://sqs.example.com/queue")
	t.Setenv("DYNAMODB_TABLE", "vault-table")
	t.Setenv("KEY_DELIVERY_BASE_URL", "")

	_, err := LoadWorker()
	if err == nil {
		t.Fatal("LoadWorker() expected error for missing KEY_DELIVERY_BASE_URL")
	}
}

func TestValidateAPI_ProductionRequirements(t *testing.T) {
	setRequiredAPIEnv(t)
	t.Setenv("ENV", "production")

	_, err := LoadAPI()
	if err == nil {
		t.Fatal("LoadAPI() expected error for production without credentials")
	}
}

func TestIsProduction(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"dev", false},
		{"staging", false},
		{"prod", true},
		{"production", true},
		{"PRODUCTION", true},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := &Config{Environment: tt.env}
			if got := cfg.IsProduction(); got != tt.want {
				t.Errorf("IsProduction() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetAPICredentials_DevFallback(t *testing.T) {
	cfg := &Config{Environment: "dev"}

	username, password, err := cfg.GetAPICredentials()
	if err != nil {
		t.Fatalf("GetAPICredentials() error = %v", err)
	}
	if username != "admin" || password != "secret" {
		t.Errorf("GetAPICredentials() = (%s, %s), want dev fallback", username, password)
	}
}

func TestGetAPICredentials_ProductionNoFallback(t *testing.T) {
	cfg := &Config{Environment: "production"}

	_, _, err := cfg.GetAPICredentials()
	if err == nil {
		t.Error("GetAPICredentials() expected error in production without credentials")
	}
}

func TestGetJWTSecret(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		secret  string
		wantErr bool
	}{
		{"missing in dev", "dev", "", true},
		{"missing in prod", "production", "", true},
		{"short in prod", "production", "short", true},
		{"valid", "dev", "a-secret-that-is-long-enough-to-use", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.env, API: APIConfig{JWTSecret: tt.secret}}
			_, err := cfg.GetJWTSecret()
			if (err != nil) != tt.wantErr {
				t.Errorf("GetJWTSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetPlaybackTokenSecret(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		secret  string
		wantErr bool
	}{
		{"missing", "dev", "", true},
		{"short in prod", "production", "short", true},
		{"short in dev allowed", "dev", "short", false},
		{"valid", "production", "a-playback-secret-that-is-long-enough", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Environment: tt.env, Playback: PlaybackConfig{TokenSecret: tt.secret}}
			_, err := cfg.GetPlaybackTokenSecret()
			if (err != nil) != tt.wantErr {
				t.Errorf("GetPlaybackTokenSecret() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "2h")
	if got := getEnvDuration("TEST_DURATION", time.Minute); got != 2*time.Hour {
		t.Errorf("getEnvDuration() = %v, want 2h", got)
	}

	t.Setenv("TEST_DURATION", "not-a-duration")
	if got := getEnvDuration("TEST_DURATION", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() = %v, want fallback 1m", got)
	}

	os.Unsetenv("TEST_DURATION")
	if got := getEnvDuration("TEST_DURATION", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() = %v, want default 1m", got)
	}
}

func TestGetEnvSlice(t *testing.T) {
	t.Setenv("TEST_SLICE", "a, b ,c")
	got := getEnvSlice("TEST_SLICE", []string{"default"})
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("getEnvSlice() = %v, want [a b c]", got)
	}

	t.Setenv("TEST_SLICE", "")
	got = getEnvSlice("TEST_SLICE", []string{"default"})
	if len(got) != 1 || got[0] != "default" {
		t.Errorf("getEnvSlice() = %v, want [default]", got)
	}
}
