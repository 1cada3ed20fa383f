package drive

import (
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// Kind selects which maneuver a speed or acceleration setting applies to.
type Kind int

// Maneuver kinds.
const (
	ForSpeed Kind = iota
	ForGoto
)

func (k Kind) String() string {
	switch k {
	case ForSpeed:
		return "speed"
	case ForGoto:
		return "goto"
	default:
		return "unknown"
	}
}

// Config holds the drive settings. Speeds are in encoder ticks per second and accelerations
// in ticks per second squared.
type Config struct {
	SpeedAcceleration int  `json:"speed_acceleration"`
	GotoAcceleration  int  `json:"goto_acceleration"`
	SpeedLimit        int  `json:"speed_limit"`
	GotoSpeedLimit    int  `json:"goto_speed_limit"`
	Feedback          bool `json:"feedback"`
	BlockingGoto      bool `json:"blocking_goto"`
	BlockingSpeed     bool `json:"blocking_speed"`
	// ErrorLimit bounds how far the calculated distance may run ahead of or behind the
	// measured one.
	ErrorLimit   int `json:"error_limit"`
	SampleRateHz int `json:"sample_rate_hz"`
	PulseRateHz  int `json:"pulse_rate_hz"`
	// StopPulses is the number of control cycles a wheel is held unpowered after its speed
	// reaches zero.
	StopPulses int `json:"stop_pulses"`
	NudgeSpeed int `json:"nudge_speed"`
	// ManeuverTimeout bounds blocking calls; zero waits until the context is done.
	ManeuverTimeout time.Duration `json:"maneuver_timeout"`
	PollInterval    time.Duration `json:"poll_interval"`
}

// DefaultConfig returns the ActivityBot defaults.
func DefaultConfig() Config {
	return Config{
		SpeedAcceleration: 600,
		GotoAcceleration:  200,
		SpeedLimit:        128,
		GotoSpeedLimit:    64,
		Feedback:          true,
		BlockingGoto:      true,
		BlockingSpeed:     true,
		ErrorLimit:        10,
		SampleRateHz:      800,
		PulseRateHz:       50,
		StopPulses:        5,
		NudgeSpeed:        4,
		PollInterval:      10 * time.Millisecond,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	positive := []struct {
		name  string
		value int
	}{
		{"speed_acceleration", cfg.SpeedAcceleration},
		{"goto_acceleration", cfg.GotoAcceleration},
		{"speed_limit", cfg.SpeedLimit},
		{"goto_speed_limit", cfg.GotoSpeedLimit},
		{"error_limit", cfg.ErrorLimit},
		{"sample_rate_hz", cfg.SampleRateHz},
		{"pulse_rate_hz", cfg.PulseRateHz},
		{"nudge_speed", cfg.NudgeSpeed},
	}
	for _, field := range positive {
		if field.value <= 0 {
			return goutils.NewConfigValidationError(path, errors.Errorf("%s must be positive, got %d", field.name, field.value))
		}
	}
	if cfg.SampleRateHz%cfg.PulseRateHz != 0 {
		return goutils.NewConfigValidationError(path,
			errors.Errorf("sample_rate_hz (%d) must be a multiple of pulse_rate_hz (%d)", cfg.SampleRateHz, cfg.PulseRateHz))
	}
	if cfg.StopPulses < 0 {
		return goutils.NewConfigValidationError(path, errors.New("stop_pulses must not be negative"))
	}
	if cfg.ManeuverTimeout < 0 {
		return goutils.NewConfigValidationError(path, errors.New("maneuver_timeout must not be negative"))
	}
	if cfg.PollInterval <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "poll_interval")
	}
	return nil
}

// rampStep converts an acceleration to the speed change per control cycle.
func (cfg *Config) rampStep(kind Kind) int {
	accel := cfg.SpeedAcceleration
	if kind == ForGoto {
		accel = cfg.GotoAcceleration
	}
	return accel / cfg.PulseRateHz
}

func (cfg *Config) speedLimit(kind Kind) int {
	if kind == ForGoto {
		return cfg.GotoSpeedLimit
	}
	return cfg.SpeedLimit
}
