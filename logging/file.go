package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig describes a rotating log file written next to the console output.
type FileConfig struct {
	Path string `json:"path"`
	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB  int  `json:"max_size_mb"`
	MaxBackups int  `json:"max_backups"`
	Compress   bool `json:"compress"`
}

// NewLoggerWithFile is like NewLogger at the given level but also writes each entry to the
// rotating file described by file, as JSON lines. The returned function closes the file.
func NewLoggerWithFile(name string, level Level, file FileConfig) (Logger, func() error) {
	rotator := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		Compress:   file.Compress,
	}

	config := NewLoggerConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	console := zap.Must(config.Build()).Core()

	encoderConfig := config.EncoderConfig
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(rotator), zapcore.DebugLevel)

	base := zap.New(zapcore.NewTee(console, fileCore), zap.AddCaller()).Sugar()
	logger := newImpl(base, name, zap.NewAtomicLevelAt(level.AsZap()))
	return register(name, logger), rotator.Close
}
