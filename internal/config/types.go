package config

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int            `yaml:"port"`
	DSN            string         `yaml:"dsn"` // MySQL DSN
	RedisURL       string         `yaml:"redis_url"`
	Database       DatabaseConfig `yaml:"database"`
	Env            string         `yaml:"env"` // "development" | "production"
	AllowedOrigins []string       `yaml:"allowed_origins"`
	JWTSecret      string         `yaml:"jwt_secret"`
	AI             AIConfig       `yaml:"ai"`
}

// DatabaseConfig composes a DSN when the top-level dsn is not set.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Charset  string `yaml:"charset"`
}

// AIConfig configures the generation backends. The first enabled provider is
// the primary backend; the second enabled provider (if any) is the fallback.
type AIConfig struct {
	Providers        []AIProvider       `yaml:"providers"`
	CardModel        *AIModelAssignment `yaml:"card_model,omitempty"`
	AnalysisModel    *AIModelAssignment `yaml:"analysis_model,omitempty"`
	ExplanationModel *AIModelAssignment `yaml:"explanation_model,omitempty"`
}

// AIModelAssignment pins a feature to a provider and model.
type AIModelAssignment struct {
	ProviderID string `yaml:"provider_id"`
	Model      string `yaml:"model"`
}

// AIProvider describes one generation backend.
type AIProvider struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Type         string `yaml:"type"` // OpenAI | Anthropic
	APIKey       string `yaml:"api_key"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	DefaultModel string `yaml:"default_model"`
	Enabled      bool   `yaml:"enabled"`
}
