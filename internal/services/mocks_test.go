package services

import (
	"context"

	"github.com/ruralpay/ledger-engine/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishLedgerEvent(ctx context.Context, event models.LedgerEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
