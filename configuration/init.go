package configuration

import (
	"flag"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type config struct {
	lock     sync.RWMutex
	log      *zap.Logger
	humanLog *zap.SugaredLogger
}

var cfg config

var configFile string

func init() {
	// initialize startup logger
	logCfg := zap.NewProductionConfig()

	logCfg.DisableStacktrace = true
	logCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	logCfg.EncoderConfig.CallerKey = ""
	logCfg.Encoding = "console"
	logCfg.EncoderConfig.EncodeTime = func(t time.Time, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(t.Format(time.RFC3339))
	}

	log, err := logCfg.Build()
	if err != nil {
		log = zap.NewNop()
	}

	cfg.log = log
	cfg.humanLog = log.Sugar()

	configFile, _ = os.LookupEnv("ZBUS_CONFIG")

	flag.StringVar(&configFile, "config", configFile, "config file")
}

// GetLogger return production logger
func GetLogger() *zap.Logger {
	cfg.lock.RLock()
	defer cfg.lock.RUnlock()

	return cfg.log
}

// GetHumanLogger return logger for command line output
func GetHumanLogger() *zap.SugaredLogger {
	cfg.lock.RLock()
	defer cfg.lock.RUnlock()

	return cfg.humanLog
}

// ConfigFile path given by --config flag or ZBUS_CONFIG
func ConfigFile() string {
	return configFile
}

var configTimeFormatMap = map[string]string{
	"ANSIC":       time.ANSIC,
	"UNIX":        time.UnixDate,
	"RubyDate":    time.RubyDate,
	"RFC822":      time.RFC822,
	"RFC822Z":     time.RFC822Z,
	"RFC850":      time.RFC850,
	"RFC1123":     time.RFC1123,
	"RFC1123Z":    time.RFC1123Z,
	"RFC3339":     time.RFC3339,
	"RFC3339Nano": time.RFC3339Nano,
}

// ConfigureLoggers replace startup loggers according to config
func ConfigureLoggers(c *LogConfig) error {
	logCfg := zap.NewDevelopmentEncoderConfig()

	level := zapcore.InfoLevel
	if len(c.Console.Level) > 0 {
		if err := level.UnmarshalText([]byte(c.Console.Level)); err != nil {
			return err
		}
	}

	if c.Console.Timestamp != nil {
		if f, ok := configTimeFormatMap[c.Console.Timestamp.Format]; !ok {
			GetLogger().Warn("unsupported time format supplied by config. using RFC3339",
				zap.String("format", c.Console.Timestamp.Format))
			c.Console.Timestamp.Format = time.RFC3339
		} else {
			c.Console.Timestamp.Format = f
		}

		format := c.Console.Timestamp.Format
		logCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format(format))
		}
	} else {
		logCfg.EncodeTime = nil
		logCfg.TimeKey = ""
	}

	logCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logCfg.StacktraceKey = ""
	consoleEncoder := zapcore.NewConsoleEncoder(logCfg)

	// High-priority output should also go to standard error, and low-priority
	// output should also go to standard out.
	consoleDebugging := zapcore.Lock(os.Stdout)
	consoleErrors := zapcore.Lock(os.Stderr)

	highPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel && lvl >= level
	})
	lowPriority := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl < zapcore.ErrorLevel && lvl >= level
	})

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, consoleErrors, highPriority),
		zapcore.NewCore(consoleEncoder, consoleDebugging, lowPriority))

	log := zap.New(core)

	cfg.lock.Lock()
	cfg.log = log
	cfg.humanLog = log.Sugar()
	cfg.lock.Unlock()

	_ = log.Sync()

	return nil
}
