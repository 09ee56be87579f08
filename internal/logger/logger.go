package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
)

var (
	once sync.Once
	log  *zap.SugaredLogger
)

// Get returns the process-wide sugared logger, building it on first use.
// Production config unless APP_ENV=dev.
func Get() *zap.SugaredLogger {
	once.Do(func() {
		var l *zap.Logger
		var err error
		if os.Getenv("APP_ENV") == "dev" {
			l, err = zap.NewDevelopment()
		} else {
			l, err = zap.NewProduction()
		}
		if err != nil {
			panic(err)
		}
		log = l.Sugar()
	})
	return log
}

func Info(msg string, kv ...any)  { Get().Infow(msg, kv...) }
func Warn(msg string, kv ...any)  { Get().Warnw(msg, kv...) }
func Error(msg string, kv ...any) { Get().Errorw(msg, kv...) }
func Debug(msg string, kv ...any) { Get().Debugw(msg, kv...) }
