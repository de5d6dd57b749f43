package signal

import (
	"github.com/relaynet/relayd/infrastructure/logger"
	"github.com/relaynet/relayd/util/panics"
)

var log = logger.RegisterSubSystem("RELD")
var spawn = panics.GoroutineWrapperFunc(log)
