package storage

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/antoineross/supabase-go"
	storage_go "github.com/supabase-community/storage-go"

	"github.com/JDerekLomas/secondrenaissance-sub001/internal/config"
	"github.com/JDerekLomas/secondrenaissance-sub001/internal/logger"
)

// Service persists uploaded source documents. When Supabase is configured the
// payload goes to the storage bucket and the returned path is the bucket
// object path; otherwise files land under DATA_DIR/uploads.
type Service struct {
	log *logger.Logger
	cfg config.Config

	supabaseClient *supabase.Client
}

func New(cfg config.Config) (*Service, error) {
	s := &Service{log: logger.New("Storage"), cfg: cfg}

	// In production, Supabase storage is required
	if cfg.AppEnv == "production" {
		if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" || cfg.SupabaseBucket == "" {
			return nil, fmt.Errorf("production environment requires Supabase configuration: NEXT_PUBLIC_SUPABASE_URL, SUPABASE_SERVICE_ROLE_KEY, and SUPABASE_STORAGE_BUCKET must be set")
		}
	}

	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, nil)
		if err != nil {
			if cfg.AppEnv == "production" {
				return nil, fmt.Errorf("failed to initialize Supabase client in production: %w", err)
			}
			s.log.LogWarnf("failed to initialize Supabase client: %v", err)
		} else {
			s.supabaseClient = client
		}
	}
	return s, nil
}

// Save writes the payload under the given collision-resistant name and
// returns the durable path the worker will read it from. The write completes
// before the caller creates any job row referencing it.
func (s *Service) Save(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty payload")
	}

	if s.supabaseClient != nil && s.cfg.SupabaseBucket != "" {
		objectPath := "uploads/" + filename
		mimeType := mime.TypeByExtension(filepath.Ext(filename))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		_, err := s.supabaseClient.Storage.UploadFile(
			s.cfg.SupabaseBucket, objectPath, bytes.NewReader(data),
			storage_go.FileOptions{ContentType: &mimeType})
		if err != nil {
			return "", fmt.Errorf("supabase upload: %w", err)
		}
		s.log.LogInfof("uploaded %s to bucket %s", objectPath, s.cfg.SupabaseBucket)
		return objectPath, nil
	}

	dir := filepath.Join(s.cfg.DataDir, "uploads")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create uploads dir: %w", err)
	}
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write upload: %w", err)
	}
	s.log.LogInfof("saved upload %s (%d bytes)", path, len(data))
	return path, nil
}
