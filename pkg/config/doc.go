// Package config loads typed configuration from environment variables.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11. The
// first call to Load reads a .env file from the working directory when one
// exists, then parses the environment into the target struct using env tags.
// Each configuration type is parsed once and cached for the process lifetime;
// ResetCache clears the cache for tests.
//
//	var cfg pg.Config
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
package config
