package storage

// Config holds all engine settings, loadable from a yaml file.
type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Fetch struct {
		TimeoutSeconds int  `yaml:"timeout_seconds"`
		Workers        int  `yaml:"workers"`
		ProbeFavicons  bool `yaml:"probe_favicons"`
	} `yaml:"fetch"`

	Refresh struct {
		IntervalMinutes       int `yaml:"interval_minutes"`
		ForceThresholdMinutes int `yaml:"force_threshold_minutes"`
	} `yaml:"refresh"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Database.Path = "./quill.db"
	cfg.Fetch.TimeoutSeconds = 10
	cfg.Fetch.Workers = 5
	cfg.Fetch.ProbeFavicons = true
	cfg.Refresh.IntervalMinutes = 10
	cfg.Refresh.ForceThresholdMinutes = 5
	return cfg
}
