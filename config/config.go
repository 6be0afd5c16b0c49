package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DBPath      string
	DatabaseURL string // optional; switches the store backend to Postgres
	LogLevel    string
	Proxy       ProxyConfig
	Scheduler   SchedulerConfig
	Scraper     ScraperConfig
	Export      ExportConfig
	Site        *SiteConfig
}

type ProxyConfig struct {
	URL string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ScraperConfig struct {
	DelayMS         int
	PageCap         int // pagination cap for category-confirmed counting
	FallbackPageCap int // pagination cap for generic fallback scanning
	FreshnessDays   int // sitemap refresh threshold
}

type ExportConfig struct {
	Dir         string
	Interval    time.Duration
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
}

type SiteConfig struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	BaseURL      string `yaml:"base_url"`
	SitemapURL   string `yaml:"sitemap_url"`
	StorePath    string `yaml:"store_path"`    // URL path fragment identifying store pages
	CategorySlug string `yaml:"category_slug"` // vehicle category path fragment
	Fetcher      string `yaml:"fetcher"`       // "http" or "browser"
	RateLimitMS  int    `yaml:"rate_limit_ms"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBPath:      getEnv("DB_PATH", "tracker.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		Scraper: ScraperConfig{
			DelayMS:         getEnvInt("SCRAPE_DELAY_MS", 500),
			PageCap:         getEnvInt("SCRAPE_PAGE_CAP", 80),
			FallbackPageCap: getEnvInt("SCRAPE_FALLBACK_PAGE_CAP", 20),
			FreshnessDays:   getEnvInt("SITEMAP_FRESHNESS_DAYS", 14),
		},
		Export: ExportConfig{
			Dir:         getEnv("EXPORT_DIR", "exports"),
			S3Bucket:    os.Getenv("EXPORT_S3_BUCKET"),
			S3Region:    getEnv("EXPORT_S3_REGION", "eu-central-1"),
			S3Endpoint:  os.Getenv("EXPORT_S3_ENDPOINT"),
			S3AccessKey: os.Getenv("EXPORT_S3_ACCESS_KEY"),
			S3SecretKey: os.Getenv("EXPORT_S3_SECRET_KEY"),
		},
	}

	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Scheduler.Interval = d
		}
	}
	if interval := os.Getenv("EXPORT_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Export.Interval = d
		}
	}

	if err := cfg.loadSiteConfig(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSiteConfig() error {
	path := getEnv("SITE_CONFIG", filepath.Join("config", "sites", "njuskalo.yaml"))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.Site = defaultSite()
			return nil
		}
		return err
	}

	var site SiteConfig
	if err := yaml.Unmarshal(data, &site); err != nil {
		return fmt.Errorf("parse site config %s: %w", path, err)
	}
	if site.BaseURL == "" {
		return fmt.Errorf("site config %s: base_url is required", path)
	}
	applySiteDefaults(&site)

	c.Site = &site
	return nil
}

func defaultSite() *SiteConfig {
	site := &SiteConfig{
		ID:      "njuskalo",
		Name:    "Njuskalo",
		BaseURL: "https://www.njuskalo.hr",
	}
	applySiteDefaults(site)
	return site
}

func applySiteDefaults(site *SiteConfig) {
	if site.ID == "" {
		site.ID = "njuskalo"
	}
	if site.SitemapURL == "" {
		site.SitemapURL = site.BaseURL + "/sitemap.xml"
	}
	if site.StorePath == "" {
		site.StorePath = "/trgovina/"
	}
	if site.CategorySlug == "" {
		site.CategorySlug = "auto-moto"
	}
	if site.Fetcher == "" {
		site.Fetcher = "http"
	}
	if site.RateLimitMS == 0 {
		site.RateLimitMS = 1500
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
