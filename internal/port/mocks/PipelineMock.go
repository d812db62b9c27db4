package mocks

import (
	context "context"

	domain "github.com/bnema/celluloid/internal/domain"
	mock "github.com/stretchr/testify/mock"

	port "github.com/bnema/celluloid/internal/port"
)

// PipelineMock is a testify mock of port.Pipeline with typed expectations.
type PipelineMock struct {
	mock.Mock
}

type PipelineMock_Expecter struct {
	mock *mock.Mock
}

func (_m *PipelineMock) EXPECT() *PipelineMock_Expecter {
	return &PipelineMock_Expecter{mock: &_m.Mock}
}

// Run provides a mock function with given fields: ctx, req, progress
func (_m *PipelineMock) Run(ctx context.Context, req domain.PipelineRequest, progress port.ProgressFunc) (*domain.PipelineResult, error) {
	ret := _m.Called(ctx, req, progress)

	if len(ret) == 0 {
		panic("no return value specified for Run")
	}

	var r0 *domain.PipelineResult
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, domain.PipelineRequest, port.ProgressFunc) (*domain.PipelineResult, error)); ok {
		return rf(ctx, req, progress)
	}
	if rf, ok := ret.Get(0).(func(context.Context, domain.PipelineRequest, port.ProgressFunc) *domain.PipelineResult); ok {
		r0 = rf(ctx, req, progress)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*domain.PipelineResult)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, domain.PipelineRequest, port.ProgressFunc) error); ok {
		r1 = rf(ctx, req, progress)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// PipelineMock_Run_Call is a *mock.Call that shadows Run/Return methods with type explicit version for method 'Run'
type PipelineMock_Run_Call struct {
	*mock.Call
}

// Run is a helper method to define mock.On call
//   - ctx context.Context
//   - req domain.PipelineRequest
//   - progress port.ProgressFunc
func (_e *PipelineMock_Expecter) Run(ctx interface{}, req interface{}, progress interface{}) *PipelineMock_Run_Call {
	return &PipelineMock_Run_Call{Call: _e.mock.On("Run", ctx, req, progress)}
}

func (_c *PipelineMock_Run_Call) Run(run func(ctx context.Context, req domain.PipelineRequest, progress port.ProgressFunc)) *PipelineMock_Run_Call {
	_c.Call.Run(func(args mock.Arguments) {
		run(args[0].(context.Context), args[1].(domain.PipelineRequest), args[2].(port.ProgressFunc))
	})
	return _c
}

func (_c *PipelineMock_Run_Call) Return(_a0 *domain.PipelineResult, _a1 error) *PipelineMock_Run_Call {
	_c.Call.Return(_a0, _a1)
	return _c
}

func (_c *PipelineMock_Run_Call) RunAndReturn(run func(context.Context, domain.PipelineRequest, port.ProgressFunc) (*domain.PipelineResult, error)) *PipelineMock_Run_Call {
	_c.Call.Return(run)
	return _c
}

// NewPipelineMock creates a new instance of PipelineMock. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewPipelineMock(t interface {
	mock.TestingT
	Cleanup(func())
}) *PipelineMock {
	mock := &PipelineMock{}
	mock.Mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
