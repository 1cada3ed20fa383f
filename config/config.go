// Package config defines the configuration file of the abdrive tools.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/abdrive/calibration"
	"go.viam.com/abdrive/drive"
	"go.viam.com/abdrive/eeprom"
	"go.viam.com/abdrive/logging"
	"go.viam.com/abdrive/sim"
)

// Config describes a robot: how it drives, how it is calibrated, what it runs on and where
// its calibration is kept.
type Config struct {
	Drive       drive.Config              `json:"drive"`
	Calibration calibration.BuilderConfig `json:"calibration"`
	Board       BoardConfig               `json:"board"`
	Store       StoreConfig               `json:"store"`

	// Log sets logger levels by name pattern, e.g. {"pattern": "abdrive.drive", "level": "debug"}.
	Log []logging.LoggerPatternConfig `json:"log"`
	// LogFile, when its path is set, also writes logs to a rotating file.
	LogFile logging.FileConfig `json:"log_file"`
}

// BoardConfig selects the hardware. With Sim set the wheels are simulated and LeftWheel and
// RightWheel describe them.
type BoardConfig struct {
	Sim        bool                       `json:"sim"`
	Rig        calibration.BoardRigConfig `json:"rig"`
	LeftWheel  sim.WheelConfig            `json:"left_wheel"`
	RightWheel sim.WheelConfig            `json:"right_wheel"`
}

// StoreConfig locates the non-volatile image holding calibration tables and pin records.
type StoreConfig struct {
	Path   string             `json:"path"`
	Size   int                `json:"size"`
	Layout calibration.Layout `json:"layout"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Drive:       drive.DefaultConfig(),
		Calibration: calibration.DefaultBuilderConfig(),
		Board: BoardConfig{
			Rig:        calibration.DefaultBoardRigConfig(),
			LeftWheel:  sim.DefaultWheelConfig(false),
			RightWheel: sim.DefaultWheelConfig(true),
		},
		Store: StoreConfig{
			Path:   "abdrive.eeprom",
			Size:   eeprom.DefaultSize,
			Layout: calibration.DefaultLayout(),
		},
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate() error {
	if err := cfg.Drive.Validate("drive"); err != nil {
		return err
	}
	if err := cfg.Calibration.Validate("calibration"); err != nil {
		return goutils.NewConfigValidationError("calibration", err)
	}
	if err := cfg.Board.Validate("board"); err != nil {
		return err
	}
	if err := cfg.Store.Validate("store"); err != nil {
		return err
	}
	if cfg.LogFile.Path != "" && cfg.LogFile.MaxSizeMB < 0 {
		return goutils.NewConfigValidationError("log_file", errors.New("max_size_mb must not be negative"))
	}
	for i, lpc := range cfg.Log {
		if err := lpc.Validate(fmt.Sprintf("log.%d", i)); err != nil {
			return err
		}
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (cfg *BoardConfig) Validate(path string) error {
	if cfg.Rig.SampleRateHz <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path+".rig", "sample_rate_hz")
	}
	if cfg.Rig.Timeout <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path+".rig", "timeout")
	}
	if cfg.Sim {
		for name, w := range map[string]sim.WheelConfig{"left_wheel": cfg.LeftWheel, "right_wheel": cfg.RightWheel} {
			if w.Gain <= 0 {
				return goutils.NewConfigValidationError(path+"."+name, errors.New("gain must be positive"))
			}
		}
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (cfg *StoreConfig) Validate(path string) error {
	if cfg.Path == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "path")
	}
	if cfg.Size <= 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("size must be positive, got %d", cfg.Size))
	}
	return nil
}
