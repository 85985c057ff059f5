package database

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schoolways/bus-tracker-backend/internal/models"
)

// MemoryReceiptStore is an in-process ReceiptStore
type MemoryReceiptStore struct {
	mu       sync.Mutex
	receipts map[string]models.NotificationReceipt
}

// NewMemoryReceiptStore creates an empty MemoryReceiptStore
func NewMemoryReceiptStore() *MemoryReceiptStore {
	return &MemoryReceiptStore{receipts: make(map[string]models.NotificationReceipt)}
}

// Claim inserts the receipts whose keys are free
func (s *MemoryReceiptStore) Claim(ctx context.Context, receipts ...models.NotificationReceipt) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(receipts) == 0 {
		return nil, nil
	}
	if _, exists := s.receipts[receipts[0].IdempotencyKey]; exists {
		return nil, nil
	}

	var claimed []string
	for _, receipt := range receipts {
		if _, exists := s.receipts[receipt.IdempotencyKey]; exists {
			continue
		}
		if receipt.ID == "" {
			receipt.ID = uuid.New().String()
		}
		receipt.CreatedAt = time.Now()
		s.receipts[receipt.IdempotencyKey] = receipt
		claimed = append(claimed, receipt.IdempotencyKey)
	}
	return claimed, nil
}

// Release deletes receipts by key
func (s *MemoryReceiptStore) Release(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.receipts, key)
	}
	return nil
}

// States aggregates receipts into one PushState per uid
func (s *MemoryReceiptStore) States(ctx context.Context, dateKey, routeID string, uids []string) (map[string]models.PushState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]struct{}, len(uids))
	for _, uid := range uids {
		wanted[uid] = struct{}{}
	}

	states := make(map[string]models.PushState)
	for _, receipt := range s.receipts {
		if receipt.DateKey != dateKey || receipt.RouteID != routeID {
			continue
		}
		if _, ok := wanted[receipt.UID]; !ok {
			continue
		}
		state := states[receipt.UID]
		switch receipt.Kind {
		case models.NotificationETA15:
			state.ETA15Sent = true
		case models.NotificationETA5:
			state.ETA5Sent = true
		case models.NotificationPickedUp:
			state.PickedUpSent = true
		case models.NotificationStopsRemaining:
			if receipt.StopsRemaining != nil {
				if state.LastStopsRemainingNotified == nil || *receipt.StopsRemaining < *state.LastStopsRemainingNotified {
					n := *receipt.StopsRemaining
					state.LastStopsRemainingNotified = &n
				}
			}
		}
		states[receipt.UID] = state
	}
	return states, nil
}

// PurgeBefore deletes receipts of service days before dateKey
func (s *MemoryReceiptStore) PurgeBefore(ctx context.Context, dateKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var purged int64
	for key, receipt := range s.receipts {
		if receipt.DateKey < dateKey {
			delete(s.receipts, key)
			purged++
		}
	}
	return purged, nil
}
