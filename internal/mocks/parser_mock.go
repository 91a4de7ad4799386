package mocks

import (
	"github.com/benmeehan/gps-mapper/pkg/nmeastream"
	"github.com/stretchr/testify/mock"
)

// MockParser is a mock implementation of the gps.Parser interface
type MockParser struct {
	mock.Mock
}

func (m *MockParser) Write(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *MockParser) Fix() nmeastream.Fix {
	args := m.Called()
	return args.Get(0).(nmeastream.Fix)
}

func (m *MockParser) Stats() nmeastream.Stats {
	args := m.Called()
	return args.Get(0).(nmeastream.Stats)
}
