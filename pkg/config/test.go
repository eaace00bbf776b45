package config

func loadTestConfig(cfg *Config) {
	cfg.DatabaseFilePath = ":memory:"
}
