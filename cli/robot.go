package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"gopkg.in/src-d/go-billy.v4/osfs"
	"periph.io/x/host/v3"

	"go.viam.com/abdrive/board"
	"go.viam.com/abdrive/board/periph"
	"go.viam.com/abdrive/calibration"
	"go.viam.com/abdrive/config"
	"go.viam.com/abdrive/eeprom"
	"go.viam.com/abdrive/logging"
	"go.viam.com/abdrive/sim"
)

// robot bundles what every command needs: the config, the calibration store and the board.
type robot struct {
	cfg    *config.Config
	logger logging.Logger
	store  *eeprom.Image
	pins   calibration.PinRecords
	board  board.Board
	wheels [2]*sim.Wheel

	closeLog func() error
}

func newLogger(c *cli.Context, file logging.FileConfig) (logging.Logger, func() error) {
	level := logging.INFO
	if c.Bool(flagDebug) {
		level = logging.DEBUG
	}
	if file.Path != "" {
		return logging.NewLoggerWithFile("abdrive", level, file)
	}
	if level == logging.DEBUG {
		return logging.NewDebugLogger("abdrive"), nil
	}
	return logging.NewLogger("abdrive"), nil
}

// openRobot reads the config named on the command line, opens the calibration image and
// connects to the board.
func openRobot(c *cli.Context) (*robot, error) {
	overrides := c.StringSlice(flagSet)
	if c.Bool(flagSim) {
		overrides = append(overrides, "board.sim=true")
	}
	cfg, err := config.Read(c.String(flagConfig), overrides)
	if err != nil {
		return nil, err
	}
	logger, closeLog := newLogger(c, cfg.LogFile)
	r := &robot{cfg: cfg, logger: logger, closeLog: closeLog}
	if err := r.open(); err != nil {
		return nil, multierr.Combine(err, r.Close(c.Context))
	}
	return r, nil
}

func (r *robot) open() error {
	cfg, logger := r.cfg, r.logger
	if err := logging.UpdatePatterns(cfg.Log); err != nil {
		return err
	}

	path, err := filepath.Abs(cfg.Store.Path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.Wrap(err, "creating calibration image directory")
	}
	store, err := eeprom.OpenImage(osfs.New(filepath.Dir(path)), filepath.Base(path), cfg.Store.Size)
	if err != nil {
		return err
	}
	if err := cfg.Store.Layout.Validate(store); err != nil {
		return err
	}
	pins, err := calibration.LoadPins(store, cfg.Store.Layout)
	if err != nil {
		return err
	}
	r.store, r.pins = store, pins

	if cfg.Board.Sim {
		r.wheels = [2]*sim.Wheel{sim.NewWheel(cfg.Board.LeftWheel), sim.NewWheel(cfg.Board.RightWheel)}
		r.board = sim.NewBoard(pins.Servos, pins.Encoders, r.wheels[calibration.Left], r.wheels[calibration.Right])
		logger.Debug("using simulated wheels")
		return nil
	}
	if _, err := host.Init(); err != nil {
		return errors.Wrap(err, "initializing GPIO drivers")
	}
	r.board = periph.NewBoard(nil, logger.Sublogger("board"))
	return nil
}

// rig returns the rig calibration runs on.
func (r *robot) rig() (calibration.Rig, error) {
	if r.cfg.Board.Sim {
		return sim.NewLinearRig(r.wheels[calibration.Left], r.wheels[calibration.Right]), nil
	}
	return calibration.NewBoardRig(r.board, r.pins.Servos, r.pins.Encoders, r.cfg.Board.Rig, nil)
}

// Close releases the board and the log file. It is safe on a partly opened robot.
func (r *robot) Close(ctx context.Context) error {
	var err error
	if r.board != nil {
		err = r.board.Close(ctx)
	}
	if r.closeLog != nil {
		err = multierr.Combine(err, r.closeLog())
	}
	return err
}
