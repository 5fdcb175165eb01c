package app

import (
	"log"
	"os"

	"catalog-scraper/internal/config"
)

func NewLogger(cfg config.AppConfig) *log.Logger {
	prefix := ""
	if cfg.AppName != "" {
		prefix = "[" + cfg.AppName + "] "
	}
	return log.New(os.Stdout, prefix, log.LstdFlags|log.LUTC)
}
