package config

import (
	"testing"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		shouldSet    bool
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			shouldSet:    true,
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "TEST_VAR_MISSING",
			defaultValue: "default",
			envValue:     "",
			shouldSet:    false,
			want:         "default",
		},
		{
			name:         "returns default when environment variable is empty string",
			key:          "TEST_VAR_EMPTY",
			defaultValue: "default",
			envValue:     "",
			shouldSet:    true,
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.shouldSet {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		shouldSet    bool
		want         int
	}{
		{
			name:         "parses valid integer",
			key:          "TEST_INT",
			defaultValue: 10,
			envValue:     "42",
			shouldSet:    true,
			want:         42,
		},
		{
			name:         "returns default when unset",
			key:          "TEST_INT_MISSING",
			defaultValue: 10,
			shouldSet:    false,
			want:         10,
		},
		{
			name:         "returns default on parse failure",
			key:          "TEST_INT_BAD",
			defaultValue: 10,
			envValue:     "not-a-number",
			shouldSet:    true,
			want:         10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.shouldSet {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("requires API_KEY", func(t *testing.T) {
		t.Setenv("API_KEY", "")

		_, err := Load()
		if err == nil {
			t.Fatal("Load() expected error when API_KEY is unset")
		}
	})

	t.Run("applies defaults", func(t *testing.T) {
		t.Setenv("API_KEY", "test-key")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() unexpected error: %v", err)
		}

		if cfg.CollectionName != "recipes_collection" {
			t.Errorf("CollectionName = %q, want recipes_collection", cfg.CollectionName)
		}
		if cfg.IngestBatchSize != 1000 {
			t.Errorf("IngestBatchSize = %d, want 1000", cfg.IngestBatchSize)
		}
		if cfg.RetrievalTopK != 5 {
			t.Errorf("RetrievalTopK = %d, want 5", cfg.RetrievalTopK)
		}
	})

	t.Run("rejects unknown embedding provider", func(t *testing.T) {
		t.Setenv("API_KEY", "test-key")
		t.Setenv("EMBEDDING_PROVIDER", "chroma")

		_, err := Load()
		if err == nil {
			t.Fatal("Load() expected error for unknown EMBEDDING_PROVIDER")
		}
	})

	t.Run("rejects non-positive top k", func(t *testing.T) {
		t.Setenv("API_KEY", "test-key")
		t.Setenv("RETRIEVAL_TOP_K", "0")

		_, err := Load()
		if err == nil {
			t.Fatal("Load() expected error for RETRIEVAL_TOP_K=0")
		}
	})
}
