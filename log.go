package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/natefinch/lumberjack"
	"github.com/shiena/ansicolor"
)

var log = logrus.New()

// InitLog 初始化日志: 终端输出和按大小滚动的日志文件
func InitLog() {
	log.SetFormatter(&nested.Formatter{
		HideKeys:        true,
		ShowFullLevel:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	logIO := make([]io.Writer, 0, 2)
	if logDir := conf.Output.LogDir; logDir != "" {
		os.MkdirAll(logDir, os.ModePerm)
		logIO = append(logIO, &lumberjack.Logger{
			Filename:  filepath.Join(logDir, "chartiler.log"),
			MaxSize:   conf.Output.MaxLogSize,
			MaxAge:    conf.Output.MaxLogAge,
			LocalTime: true,
		})
	}
	if conf.Output.OutputTerminal {
		logIO = append(logIO, os.Stdout)
	}

	// 融合日志输出
	log.SetOutput(ansicolor.NewAnsiColorWriter(io.MultiWriter(logIO...)))

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		log.SetLevel(logrus.InfoLevel)
	} else {
		log.SetLevel(level)
	}
}
