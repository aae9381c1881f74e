package mocks

import (
	"context"

	"oppcore/internal/database"
	"oppcore/internal/filestore"
	"oppcore/internal/llm"
	"oppcore/internal/service"

	"github.com/stretchr/testify/mock"
)

type MockResources struct {
	mock.Mock
}

func (m *MockResources) RunQuery(ctx context.Context, op database.Op) (any, error) {
	args := m.Called(ctx, op)
	return args.Get(0), args.Error(1)
}

func (m *MockResources) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*llm.CompletionResponse)
	return resp, args.Error(1)
}

func (m *MockResources) ReadFile(ctx context.Context, path string) ([]byte, error) {
	args := m.Called(ctx, path)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

func (m *MockResources) WriteFile(ctx context.Context, path string, data []byte) error {
	args := m.Called(ctx, path, data)
	return args.Error(0)
}

func (m *MockResources) DeleteFile(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

func (m *MockResources) BackupAll(ctx context.Context) (*filestore.Manifest, error) {
	args := m.Called(ctx)
	mf, _ := args.Get(0).(*filestore.Manifest)
	return mf, args.Error(1)
}

func (m *MockResources) RestoreAll(ctx context.Context) (*filestore.Manifest, error) {
	args := m.Called(ctx)
	mf, _ := args.Get(0).(*filestore.Manifest)
	return mf, args.Error(1)
}

func (m *MockResources) Health(ctx context.Context) service.HealthStatus {
	args := m.Called(ctx)
	return args.Get(0).(service.HealthStatus)
}
