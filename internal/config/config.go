package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	AppEnv   string
	HTTPAddr string
	DataDir  string

	DatabaseURL string

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	WorkerAPIKey    string
	WorkerMaxClaims int

	DefaultProvider string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func Load() Config {
	cfg := Config{
		AppEnv:   getenv("APP_ENV", "development"),
		HTTPAddr: getenv("HTTP_ADDR", ":8082"),
		DataDir:  getenv("DATA_DIR", "./data"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		SupabaseURL:        os.Getenv("NEXT_PUBLIC_SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     getenv("SUPABASE_STORAGE_BUCKET", "translations"),

		WorkerAPIKey:    os.Getenv("WORKER_API_KEY"),
		WorkerMaxClaims: getenvInt("WORKER_MAX_CLAIMS", 50),

		DefaultProvider: getenv("DEFAULT_MODEL_PROVIDER", "openai"),
	}
	if cfg.DatabaseURL == "" {
		panic(fmt.Errorf("DATABASE_URL is required"))
	}
	if cfg.WorkerAPIKey == "" {
		panic(fmt.Errorf("WORKER_API_KEY is required"))
	}
	return cfg
}
