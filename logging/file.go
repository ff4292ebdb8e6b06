package logging

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewFileLogger returns a logger that writes to stdout like NewLogger and also appends JSON lines
// to a size rotated file at path. Close the returned closer once the logger is no longer used.
func NewFileLogger(name, path string, level Level) (Logger, io.Closer) {
	sink := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100,
		MaxBackups: 3,
		Compress:   true,
	}
	encoderConfig := NewLoggerConfig().EncoderConfig
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(sink), zap.DebugLevel)

	console := zap.Must(NewLoggerConfig().Build())
	tee := zap.New(zapcore.NewTee(console.Core(), fileCore))
	return newImpl(name, level, tee.Sugar()), sink
}
