package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/brettbedarf/mediafs"
	"github.com/brettbedarf/mediafs/request"
)

// MockLister implements enumerate.Lister for testing across packages.
// Completions are delivered on D like the real client does.
type MockLister struct {
	mock.Mock
	D *request.Dispatcher
}

// NewMockLister returns a lister with its own dispatcher
func NewMockLister() *MockLister {
	return &MockLister{D: request.NewDispatcher()}
}

func (m *MockLister) ListChildren(p mediafs.Path, done func([]mediafs.Item, error)) (*request.Request, error) {
	args := m.Called(p)

	// Handle function return types (for tests deriving items from the path)
	var items []mediafs.Item
	if fn, ok := args.Get(0).(func(mediafs.Path) []mediafs.Item); ok {
		items = fn(p)
	} else if args.Get(0) != nil {
		items = args.Get(0).([]mediafs.Item)
	}

	if err := args.Error(2); err != nil {
		return nil, err
	}
	m.D.Dispatch(func() { done(items, args.Error(1)) })
	return request.New(request.MethodGet, "mock://media"), nil
}

func (m *MockLister) Dispatcher() *request.Dispatcher {
	return m.D
}
