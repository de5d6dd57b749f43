package propagation

import (
	"github.com/relaynet/relayd/infrastructure/logger"
	"github.com/relaynet/relayd/util/panics"
)

var log = logger.RegisterSubSystem("TXPR")
var spawn = panics.GoroutineWrapperFunc(log)
