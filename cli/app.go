// Package cli contains the abdrive command line tool: calibration, diagnostics and simple
// maneuvers against a real or simulated ActivityBot.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig   = "config"
	flagSet      = "set"
	flagSim      = "sim"
	flagDebug    = "debug"
	flagSide     = "side"
	flagServos   = "servos"
	flagEncoders = "encoders"
	flagDuration = "duration"
	flagNoWait   = "no-wait"
	flagPlot     = "plot"
)

var sideFlag = &cli.StringFlag{
	Name:  flagSide,
	Value: "both",
	Usage: "wheel to act on: left, right or both",
}

var app = &cli.App{
	Name:            "abdrive",
	Usage:           "calibrate and drive an ActivityBot",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.StringSliceFlag{
			Name:  flagSet,
			Usage: "override a config value, e.g. --set drive.goto_speed_limit=32",
		},
		&cli.BoolFlag{
			Name:  flagSim,
			Usage: "use simulated wheels instead of GPIO pins",
		},
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:   "calibrate",
			Usage:  "sweep both servos, store the calibration tables and report problems",
			Action: CalibrateAction,
		},
		{
			Name:   "results",
			Usage:  "diagnose the stored calibration",
			Action: ResultsAction,
		},
		{
			Name:   "table",
			Usage: "print the stored calibration tables",
			Flags: []cli.Flag{
				sideFlag,
				&cli.StringFlag{
					Name:  flagPlot,
					Usage: "also save a chart of the tables to `FILE` (.png, .svg or .pdf)",
				},
			},
			Action: TableAction,
		},
		{
			Name:  "pins",
			Usage: "show or store the servo and encoder pin numbers",
			Flags: []cli.Flag{
				&cli.IntSliceFlag{
					Name:  flagServos,
					Usage: "left and right servo pins, e.g. --servos 12,13",
				},
				&cli.IntSliceFlag{
					Name:  flagEncoders,
					Usage: "left and right encoder pins, e.g. --encoders 14,15",
				},
			},
			Action: PinsAction,
		},
		{
			Name:      "goto",
			Usage:     "move each wheel a number of encoder ticks",
			ArgsUsage: "<left ticks> <right ticks>",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  flagNoWait,
					Usage: "return as soon as the maneuver has been handed to the controller",
				},
			},
			Action: GotoAction,
		},
		{
			Name:      "speed",
			Usage:     "drive at a speed in ticks per second, then stop",
			ArgsUsage: "<left speed> <right speed>",
			Flags: []cli.Flag{
				&cli.DurationFlag{
					Name:  flagDuration,
					Value: 2e9,
					Usage: "how long to drive before stopping",
				},
			},
			Action: SpeedAction,
		},
		{
			Name:   "schema",
			Usage:  "print the JSON schema of the config file",
			Action: SchemaAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
