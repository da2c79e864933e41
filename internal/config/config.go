package config

import "os"

type Config struct {
	Port         string
	ModelsDir    string
	ManifestPath string
}

func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8080"),
		ModelsDir:    getEnv("SAWIT_MODELS_DIR", "./sawit_models"),
		ManifestPath: getEnv("SAWIT_MANIFEST", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
