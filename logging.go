package lavago

import "go.uber.org/zap"

// nopLogger is used whenever a caller constructs a Node, Player, or Manager
// without supplying a *zap.Logger.
func nopLogger() *zap.Logger { return zap.NewNop() }

func loggerOrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return nopLogger()
	}
	return l
}
