package config

import (
	"errors"
	"fmt"
)

var knownCategories = map[string]struct{}{
	"all":   {},
	"web":   {},
	"img":   {},
	"media": {},
	"none":  {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.Paths.CacheMaxMB < 0 {
		return errors.New("paths.cache_max_mb must be zero or positive")
	}
	if err := c.validateScrape(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateScrape() error {
	for _, category := range c.Scrape.Categories {
		if _, ok := knownCategories[category]; !ok {
			return fmt.Errorf("scrape.categories: unknown category %q (expected all, web, img, media or none)", category)
		}
	}
	if c.Scrape.SizeLimitMB < 0 {
		return errors.New("scrape.size_limit must be zero or positive")
	}
	if c.Scrape.Concurrent > 64 {
		return errors.New("scrape.concurrent must not exceed 64")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
