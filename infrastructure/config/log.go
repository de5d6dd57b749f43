package config

import (
	"path/filepath"

	"github.com/relaynet/relayd/infrastructure/logger"
)

var log = logger.RegisterSubSystem("CNFG")

func initLog(logFile, errLogFile string) {
	logger.InitLog(logFile, errLogFile)
}

func defaultLogFiles(logDir string) (logFile, errLogFile string) {
	return filepath.Join(logDir, defaultLogFilename), filepath.Join(logDir, defaultErrLogFilename)
}
