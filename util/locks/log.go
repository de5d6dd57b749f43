package locks

import (
	"github.com/relaynet/relayd/infrastructure/logger"
	"github.com/relaynet/relayd/util/panics"
)

var log = logger.RegisterSubSystem("UTIL")
var spawn = panics.GoroutineWrapperFunc(log)
