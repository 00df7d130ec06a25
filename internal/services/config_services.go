package services

import (
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/ntsmith7/peekaboo/internal/config"
	"github.com/ntsmith7/peekaboo/internal/utils"
	"github.com/ntsmith7/peekaboo/pkg/logger"
)

type ConfigServiceMethods interface {
	GetScannerDefinitions() []config.ScannerConfig
}

type configService struct {
	log *logger.Logger
}

func NewConfigService() ConfigServiceMethods {
	return &configService{
		log: logger.NewLogger(logrus.InfoLevel),
	}
}

// GetScannerDefinitions reads scanners.yaml from the config directory.
// A missing or broken file falls back to the built-in defaults so the
// API always has something to show.
func (c *configService) GetScannerDefinitions() []config.ScannerConfig {
	path := filepath.Join(utils.GetConfigPath(), "scanners.yaml")

	cfg, err := config.LoadScanners(path)
	if err != nil {
		c.log.WithError(err).WithField("path", path).Error("Failed to load scanner definitions")
		return config.DefaultScanners().Scanners
	}
	return cfg.Scanners
}
