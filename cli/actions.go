package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/abdrive/calibration"
	"go.viam.com/abdrive/config"
	"go.viam.com/abdrive/drive"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	infoColor = color.New(color.FgCyan)
)

// withRobot opens the robot, runs fn and closes it again.
func withRobot(c *cli.Context, fn func(ctx context.Context, r *robot) error) (err error) {
	r, err := openRobot(c)
	if err != nil {
		return err
	}
	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		err = multierr.Combine(err, r.Close(ctx))
	}()
	return fn(ctx, r)
}

// CalibrateAction sweeps both wheels, stores the tables and prints the diagnosis.
func CalibrateAction(c *cli.Context) error {
	return withRobot(c, func(ctx context.Context, r *robot) error {
		rig, err := r.rig()
		if err != nil {
			return err
		}
		builder, err := calibration.NewBuilder(r.cfg.Calibration, rig, r.store, r.cfg.Store.Layout, nil, r.logger.Sublogger("calibration"))
		if err != nil {
			return err
		}
		if err := calibration.SavePins(r.store, r.cfg.Store.Layout, r.pins.Servos, r.pins.Encoders); err != nil {
			return err
		}
		infoColor.Fprintln(c.App.Writer, "Calibrating, keep the wheels clear of obstacles...")
		if _, err := builder.CalibrateAll(ctx); err != nil {
			return err
		}
		report, err := calibration.Diagnose(r.store, r.cfg.Store.Layout)
		if err != nil {
			return err
		}
		return printReport(c, report)
	})
}

// ResultsAction diagnoses the stored calibration.
func ResultsAction(c *cli.Context) error {
	return withRobot(c, func(ctx context.Context, r *robot) error {
		report, err := calibration.Diagnose(r.store, r.cfg.Store.Layout)
		if err != nil {
			return err
		}
		return printReport(c, report)
	})
}

func printReport(c *cli.Context, report *calibration.Report) error {
	if report.OK() {
		okColor.Fprintln(c.App.Writer, "OK")
	} else {
		failColor.Fprintln(c.App.Writer, "PROBLEMS FOUND")
	}
	if err := report.Write(c.App.Writer); err != nil {
		return err
	}
	for _, s := range calibration.Sides {
		fmt.Fprintf(c.App.Writer, "%-5s entries %3d, zero index %3d, gain %.2f ticks/s per us\n",
			s, report.Entries[s], report.ZeroIndex[s], report.Gain[s])
	}
	return nil
}

// TableAction prints the stored calibration tables.
func TableAction(c *cli.Context) error {
	sides, err := parseSides(c.String(flagSide))
	if err != nil {
		return err
	}
	return withRobot(c, func(ctx context.Context, r *robot) error {
		var tables [2]*calibration.Table
		for _, s := range sides {
			table, err := calibration.Load(r.store, r.cfg.Store.Layout, s)
			if err != nil {
				return err
			}
			if !table.Calibrated() {
				failColor.Fprintf(c.App.Writer, "%s wheel is not calibrated\n", s)
				continue
			}
			tables[s] = table
			fmt.Fprintln(c.App.Writer, table.Render(s.String()+" wheel"))
		}
		if path := c.String(flagPlot); path != "" {
			if err := calibration.Plot(tables, "ActivityBot calibration", path); err != nil {
				return err
			}
			infoColor.Fprintf(c.App.Writer, "chart saved to %s\n", path)
		}
		return nil
	})
}

// PinsAction stores the pins given as flags, or prints the stored ones.
func PinsAction(c *cli.Context) error {
	return withRobot(c, func(ctx context.Context, r *robot) error {
		if !c.IsSet(flagServos) && !c.IsSet(flagEncoders) {
			printPins(c, "servos", r.pins.Servos, r.pins.ServosFound)
			printPins(c, "encoders", r.pins.Encoders, r.pins.EncodersFound)
			return nil
		}
		servos, encoders := r.pins.Servos, r.pins.Encoders
		var err error
		if c.IsSet(flagServos) {
			if servos, err = parsePins(c.IntSlice(flagServos)); err != nil {
				return errors.Wrap(err, flagServos)
			}
		}
		if c.IsSet(flagEncoders) {
			if encoders, err = parsePins(c.IntSlice(flagEncoders)); err != nil {
				return errors.Wrap(err, flagEncoders)
			}
		}
		if err := calibration.SavePins(r.store, r.cfg.Store.Layout, servos, encoders); err != nil {
			return err
		}
		okColor.Fprintln(c.App.Writer, "pins saved")
		printPins(c, "servos", servos, true)
		printPins(c, "encoders", encoders, true)
		return nil
	})
}

func printPins(c *cli.Context, name string, p calibration.Pins, found bool) {
	source := "stored"
	if !found {
		source = "default"
	}
	fmt.Fprintf(c.App.Writer, "%-8s left %2d  right %2d  (%s)\n", name, p.Left, p.Right, source)
}

// GotoAction moves each wheel the given number of ticks.
func GotoAction(c *cli.Context) error {
	left, right, err := parseWheelArgs(c)
	if err != nil {
		return err
	}
	return withDrive(c, func(ctx context.Context, d *drive.Drive) error {
		d.SetGotoMode(!c.Bool(flagNoWait))
		if err := d.Goto(ctx, left, right); err != nil {
			return err
		}
		return printTicks(c, d)
	})
}

// SpeedAction drives at the given speeds for a while, then stops.
func SpeedAction(c *cli.Context) error {
	left, right, err := parseWheelArgs(c)
	if err != nil {
		return err
	}
	return withDrive(c, func(ctx context.Context, d *drive.Drive) error {
		if err := d.Ramp(ctx, left, right); err != nil {
			return err
		}
		if !goutils.SelectContextOrWait(ctx, c.Duration(flagDuration)) {
			return ctx.Err()
		}
		if err := d.Ramp(ctx, 0, 0); err != nil {
			return err
		}
		return printTicks(c, d)
	})
}

func withDrive(c *cli.Context, fn func(ctx context.Context, d *drive.Drive) error) error {
	return withRobot(c, func(ctx context.Context, r *robot) (err error) {
		d, err := drive.New(r.cfg.Drive, r.board, r.store, r.cfg.Store.Layout, r.logger.Sublogger("drive"))
		if err != nil {
			return err
		}
		defer func() {
			err = multierr.Combine(err, d.Close(ctx))
		}()
		return fn(ctx, d)
	})
}

func printTicks(c *cli.Context, d *drive.Drive) error {
	left, right, err := d.Ticks()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "ticks left %d right %d\n", left, right)
	return nil
}

// SchemaAction prints the JSON schema of the config file.
func SchemaAction(c *cli.Context) error {
	schema, err := json.MarshalIndent(config.Schema(), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, string(schema))
	return err
}

func parseWheelArgs(c *cli.Context) (int, int, error) {
	if c.Args().Len() != 2 {
		return 0, 0, errors.Errorf("expected 2 arguments (left and right), got %d", c.Args().Len())
	}
	var vals [2]int
	for i := range vals {
		v, err := strconv.Atoi(c.Args().Get(i))
		if err != nil {
			return 0, 0, errors.Wrapf(err, "argument %d", i+1)
		}
		vals[i] = v
	}
	return vals[0], vals[1], nil
}

func parsePins(vals []int) (calibration.Pins, error) {
	if len(vals) != 2 {
		return calibration.Pins{}, errors.Errorf("expected left and right pin, got %d values", len(vals))
	}
	for _, v := range vals {
		if v < 0 || v > 99 {
			return calibration.Pins{}, errors.Errorf("pin %d out of range", v)
		}
	}
	return calibration.Pins{Left: vals[0], Right: vals[1]}, nil
}

func parseSides(s string) ([]calibration.Side, error) {
	switch strings.ToLower(s) {
	case "left":
		return []calibration.Side{calibration.Left}, nil
	case "right":
		return []calibration.Side{calibration.Right}, nil
	case "both", "":
		return calibration.Sides[:], nil
	default:
		return nil, errors.Errorf("unknown side %q", s)
	}
}
