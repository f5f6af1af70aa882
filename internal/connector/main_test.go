package connector

import (
	"os"
	"testing"

	logx "github.com/connector-chat/server/pkg/logger"
)

func TestMain(m *testing.M) {
	logx.Disable()
	os.Exit(m.Run())
}
