package mocks

import (
	context "context"

	domain "github.com/bnema/celluloid/internal/domain"
	mock "github.com/stretchr/testify/mock"
)

// CallbackClientMock is a testify mock of port.CallbackClient with typed expectations.
type CallbackClientMock struct {
	mock.Mock
}

type CallbackClientMock_Expecter struct {
	mock *mock.Mock
}

func (_m *CallbackClientMock) EXPECT() *CallbackClientMock_Expecter {
	return &CallbackClientMock_Expecter{mock: &_m.Mock}
}

// Post provides a mock function with given fields: ctx, url, payload
func (_m *CallbackClientMock) Post(ctx context.Context, url string, payload domain.CallbackPayload) error {
	ret := _m.Called(ctx, url, payload)

	if len(ret) == 0 {
		panic("no return value specified for Post")
	}

	var r0 error
	if rf, ok := ret.Get(0).(func(context.Context, string, domain.CallbackPayload) error); ok {
		r0 = rf(ctx, url, payload)
	} else {
		r0 = ret.Error(0)
	}

	return r0
}

// CallbackClientMock_Post_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Post'
type CallbackClientMock_Post_Call struct {
	*mock.Call
}

// Post is a helper method to define mock.On call
//   - ctx context.Context
//   - url string
//   - payload domain.CallbackPayload
func (_e *CallbackClientMock_Expecter) Post(ctx interface{}, url interface{}, payload interface{}) *CallbackClientMock_Post_Call {
	return &CallbackClientMock_Post_Call{Call: _e.mock.On("Post", ctx, url, payload)}
}

func (_c *CallbackClientMock_Post_Call) Run(run func(ctx context.Context, url string, payload domain.CallbackPayload)) *CallbackClientMock_Post_Call {
	_c.Call.Run(func(args mock.Arguments) {
		run(args[0].(context.Context), args[1].(string), args[2].(domain.CallbackPayload))
	})
	return _c
}

func (_c *CallbackClientMock_Post_Call) Return(_a0 error) *CallbackClientMock_Post_Call {
	_c.Call.Return(_a0)
	return _c
}

func (_c *CallbackClientMock_Post_Call) RunAndReturn(run func(context.Context, string, domain.CallbackPayload) error) *CallbackClientMock_Post_Call {
	_c.Call.Return(run)
	return _c
}

// NewCallbackClientMock creates a new instance of CallbackClientMock. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewCallbackClientMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *CallbackClientMock {
	mock := &CallbackClientMock{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
