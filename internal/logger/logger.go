package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Configure 设置全局 logrus：format 为 json 或 text，level 为 logrus 级别名
func Configure(format, level string) error {
	return configure(logrus.StandardLogger(), os.Stdout, format, level)
}

func configure(l *logrus.Logger, out io.Writer, format, level string) error {
	fieldMap := logrus.FieldMap{
		logrus.FieldKeyLevel: "severity",
		logrus.FieldKeyMsg:   "message",
	}

	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{FieldMap: fieldMap})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			FieldMap:      fieldMap,
		})
	}

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("无法解析日志级别 %q: %w", level, err)
	}
	l.SetLevel(logLevel)
	l.SetOutput(out)
	return nil
}

// Component 返回带组件名的日志入口
func Component(name string) *logrus.Entry {
	return logrus.WithField("component", name)
}
