package env

import (
	"github.com/thatsimonsguy/heatpump-controller/internal/config"
)

var Cfg *config.Config
