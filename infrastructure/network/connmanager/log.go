package connmanager

import (
	"github.com/relaynet/relayd/infrastructure/logger"
	"github.com/relaynet/relayd/util/panics"
)

var log = logger.RegisterSubSystem("CMGR")
var spawn = panics.GoroutineWrapperFunc(log)
