package supaauth

import (
	"context"
	"fmt"

	"github.com/antoineross/supabase-go"

	"github.com/JDerekLomas/secondrenaissance-sub001/internal/config"
	"github.com/JDerekLomas/secondrenaissance-sub001/internal/logger"
)

// Service verifies externally-issued bearer tokens against Supabase auth and
// resolves them to a user id. Token issuance itself happens in the web
// application; this service only validates.
type Service struct {
	log    *logger.Logger
	client *supabase.Client
}

func New(cfg config.Config) (*Service, error) {
	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
		return nil, fmt.Errorf("supabase auth requires NEXT_PUBLIC_SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY")
	}
	client, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, nil)
	if err != nil {
		return nil, fmt.Errorf("initialize supabase client: %w", err)
	}
	return &Service{log: logger.New("SupaAuth"), client: client}, nil
}

// Verify resolves a bearer token to the owning user id.
func (s *Service) Verify(ctx context.Context, token string) (string, error) {
	user, err := s.client.Auth.WithToken(token).GetUser()
	if err != nil {
		s.log.LogDebugf("token rejected: %v", err)
		return "", fmt.Errorf("invalid token: %w", err)
	}
	return user.ID.String(), nil
}
