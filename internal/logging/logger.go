package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LoggerFactory provides centralized logger creation so every component
// gets a consistently configured, named zap.Logger.
type LoggerFactory struct {
	config     *LogConfig
	rootLogger *zap.Logger
	loggers    map[string]*zap.Logger
	loggersMu  sync.RWMutex
}

// LogConfig contains logging configuration.
type LogConfig struct {
	OutputPath      string            `json:"output_path"`
	ErrorOutputPath string            `json:"error_output_path"`
	Level           string            `json:"level"`
	ModuleLevels    map[string]string `json:"module_levels"`

	Encoding    string `json:"encoding"` // json or console
	Development bool   `json:"development"`

	MaxSizeMB  int  `json:"max_size_mb"`
	MaxBackups int  `json:"max_backups"`
	MaxAgeDays int  `json:"max_age_days"`
	Compress   bool `json:"compress"`

	DisableCaller     bool `json:"disable_caller"`
	DisableStacktrace bool `json:"disable_stacktrace"`
	Sampling          bool `json:"sampling"`

	IncludeHost    bool `json:"include_host"`
	IncludeVersion bool `json:"include_version"`
}

// NewLoggerFactory creates a new logger factory.
func NewLoggerFactory(config *LogConfig) (*LoggerFactory, error) {
	if config == nil {
		config = DefaultLogConfig()
	}

	logDir := filepath.Dir(config.OutputPath)
	if config.OutputPath != "stdout" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	encoderConfig := buildEncoderConfig(config)

	core, err := buildCore(config, encoderConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger core: %w", err)
	}

	rootLogger := zap.New(core, buildOptions(config)...)

	factory := &LoggerFactory{
		config:     config,
		rootLogger: rootLogger,
		loggers:    make(map[string]*zap.Logger),
	}

	zap.ReplaceGlobals(rootLogger)

	return factory, nil
}

// GetLogger returns a logger for the specified module.
func (f *LoggerFactory) GetLogger(module string) *zap.Logger {
	f.loggersMu.RLock()
	if logger, exists := f.loggers[module]; exists {
		f.loggersMu.RUnlock()
		return logger
	}
	f.loggersMu.RUnlock()

	f.loggersMu.Lock()
	defer f.loggersMu.Unlock()

	if logger, exists := f.loggers[module]; exists {
		return logger
	}

	logger := f.rootLogger.Named(module)

	if levelStr, hasLevel := f.config.ModuleLevels[module]; hasLevel {
		level, err := zapcore.ParseLevel(levelStr)
		if err == nil {
			core, _ := buildCoreWithLevel(f.config, level)
			logger = logger.WithOptions(zap.WrapCore(func(zapcore.Core) zapcore.Core {
				return core
			}))
		}
	}

	f.loggers[module] = logger
	return logger
}

// Sync flushes all loggers.
func (f *LoggerFactory) Sync() error {
	var firstErr error

	if err := f.rootLogger.Sync(); err != nil && firstErr == nil {
		firstErr = err
	}

	f.loggersMu.RLock()
	defer f.loggersMu.RUnlock()

	for _, logger := range f.loggers {
		if err := logger.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

func buildEncoderConfig(config *LogConfig) zapcore.EncoderConfig {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if config.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeCaller = zapcore.FullCallerEncoder
	}

	if config.DisableCaller {
		encoderConfig.CallerKey = zapcore.OmitKey
	}

	if config.DisableStacktrace {
		encoderConfig.StacktraceKey = zapcore.OmitKey
	}

	return encoderConfig
}

func buildCore(config *LogConfig, encoderConfig zapcore.EncoderConfig) (zapcore.Core, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	return buildCoreWithLevel(config, level)
}

func buildCoreWithLevel(config *LogConfig, level zapcore.Level) (zapcore.Core, error) {
	encoderConfig := buildEncoderConfig(config)

	var encoder zapcore.Encoder
	if config.Encoding == "json" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	var writers []zapcore.WriteSyncer

	if config.OutputPath != "" && config.OutputPath != "stdout" {
		fileWriter := &lumberjack.Logger{
			Filename:   config.OutputPath,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   config.Compress,
		}
		writers = append(writers, zapcore.AddSync(fileWriter))
	}

	if config.OutputPath == "stdout" || config.Development {
		writers = append(writers, zapcore.AddSync(os.Stdout))
	}

	writer := zapcore.NewMultiWriteSyncer(writers...)

	core := zapcore.NewCore(encoder, writer, level)

	if config.Sampling {
		core = zapcore.NewSamplerWithOptions(core, time.Second, 100, 10)
	}

	return core, nil
}

func buildOptions(config *LogConfig) []zap.Option {
	var options []zap.Option

	if !config.DisableCaller {
		options = append(options, zap.AddCaller())
	}

	if !config.DisableStacktrace {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	if config.Development {
		options = append(options, zap.Development())
	}

	var fields []zap.Field

	if config.IncludeHost {
		if hostname, err := os.Hostname(); err == nil {
			fields = append(fields, zap.String("host", hostname))
		}
	}

	if config.IncludeVersion {
		fields = append(fields, zap.String("version", Version))
	}

	if len(fields) > 0 {
		options = append(options, zap.Fields(fields...))
	}

	return options
}

// Version is stamped into every log line via IncludeVersion; overridden at
// link time with -ldflags in release builds.
var Version = "dev"

// DefaultLogConfig returns default logging configuration.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		OutputPath:        "logs/wattxd.log",
		ErrorOutputPath:   "logs/wattxd_error.log",
		Level:             "info",
		ModuleLevels:      make(map[string]string),
		Encoding:          "json",
		Development:       false,
		MaxSizeMB:         100,
		MaxBackups:        7,
		MaxAgeDays:        30,
		Compress:          true,
		DisableCaller:     false,
		DisableStacktrace: false,
		Sampling:          true,
		IncludeHost:       true,
		IncludeVersion:    true,
	}
}

// WithMining adds hash-rate/merit fields common to the R and G cores.
func WithMining(logger *zap.Logger, core string, rate float64) *zap.Logger {
	return logger.With(
		zap.String("core", core),
		zap.Float64("rate", rate),
	)
}

// WithClient adds stratum client context.
func WithClient(logger *zap.Logger, sessionID string, addr string) *zap.Logger {
	return logger.With(
		zap.String("session_id", sessionID),
		zap.String("addr", addr),
	)
}

// WithComponent adds component context.
func WithComponent(logger *zap.Logger, component string) *zap.Logger {
	return logger.With(zap.String("component", component))
}

// LogIf logs only if err is not nil.
func LogIf(logger *zap.Logger, err error, msg string, fields ...zap.Field) {
	if err != nil {
		logger.Error(msg, append(fields, zap.Error(err))...)
	}
}

// DebugSampled logs debug messages with sampling, for hot paths like
// per-nonce or per-candidate tracing that would otherwise flood the log.
var debugSampler = &Sampler{
	interval:   time.Second,
	first:      10,
	thereafter: 10,
}

func DebugSampled(logger *zap.Logger, msg string, fields ...zap.Field) {
	if debugSampler.Check() {
		logger.Debug(msg, fields...)
	}
}

// Sampler implements simple fixed-window sampling.
type Sampler struct {
	interval   time.Duration
	first      int
	thereafter int

	mu       sync.Mutex
	lastTick time.Time
	count    int
}

func (s *Sampler) Check() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastTick) > s.interval {
		s.lastTick = now
		s.count = 0
	}

	s.count++

	if s.count <= s.first {
		return true
	}

	return (s.count-s.first)%s.thereafter == 0
}
