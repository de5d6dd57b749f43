package winservice

import (
	"github.com/relaynet/relayd/infrastructure/logger"
)

var log = logger.RegisterSubSystem("RELD")
