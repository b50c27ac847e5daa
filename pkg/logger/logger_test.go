package logger

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zapcore"
)

type LoggerTestSuite struct {
	suite.Suite
}

func TestLoggerSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}

func (s *LoggerTestSuite) TestNewLogger() {
	log, err := NewLogger("debug")
	s.Require().NoError(err)
	s.NotNil(log.Logger)
	s.True(log.Core().Enabled(zapcore.DebugLevel))
}

func (s *LoggerTestSuite) TestUnknownLevelFallsBackToInfo() {
	s.Equal(zapcore.InfoLevel, parseLevel("chatty"))
	s.Equal(zapcore.WarnLevel, parseLevel(" WARN "))
}

func (s *LoggerTestSuite) TestNopSync() {
	s.NoError(NewNop().Sync())
	var empty Logger
	s.NoError(empty.Sync())
}
