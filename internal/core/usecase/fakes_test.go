package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/domain"
	"github.com/kirillkom/fiscal-receipt-ingest/internal/core/ports"
)

// memStore keeps receipts in memory and applies a transaction's writes only on success.
type memStore struct {
	mu       sync.Mutex
	receipts map[string]*domain.Receipt
	stores   map[string]string
	products map[string]string
	seq      int

	findErr error
	// raceWinner, when set, makes InsertReceipt lose a concurrent insert to this id.
	raceWinner string
	failItems  error
	txCount    int

	upsertOrder []string
}

func newMemStore() *memStore {
	return &memStore{
		receipts: map[string]*domain.Receipt{},
		stores:   map[string]string{},
		products: map[string]string{},
	}
}

func (s *memStore) FindReceiptID(_ context.Context, userID string, key domain.AccessKey) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return "", s.findErr
	}
	for id, r := range s.receipts {
		if r.UserID == userID && r.AccessKey == key {
			return id, nil
		}
	}
	if s.raceWinner != "" && s.txCount > 0 {
		return s.raceWinner, nil
	}
	return "", nil
}

func (s *memStore) GetReceipt(_ context.Context, userID, receiptID string) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[receiptID]
	if !ok || r.UserID != userID {
		return nil, domain.WrapError(domain.ErrReceiptNotFound, "get receipt", errors.New(receiptID))
	}
	cp := *r
	cp.RawScan = append([]byte(nil), r.RawScan...)
	cp.RawPayload = append([]byte(nil), r.RawPayload...)
	return &cp, nil
}

func (s *memStore) RunInTx(_ context.Context, fn func(tx ports.ReceiptWriter) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++
	w := &memWriter{store: s, stores: map[string]string{}, products: map[string]string{}}
	err := fn(w)
	s.upsertOrder = w.upsertOrder
	if err != nil {
		return err
	}
	for k, v := range w.stores {
		s.stores[k] = v
	}
	for k, v := range w.products {
		s.products[k] = v
	}
	if w.receipt != nil {
		w.receipt.Items = w.items
		s.receipts[w.receipt.ID] = w.receipt
	}
	return nil
}

type memWriter struct {
	store    *memStore
	stores   map[string]string
	products map[string]string
	receipt  *domain.Receipt
	items    []domain.ReceiptItem

	upsertOrder []string
}

func (w *memWriter) nextID(prefix string) string {
	w.store.seq++
	return fmt.Sprintf("%s-%d", prefix, w.store.seq)
}

func (w *memWriter) UpsertStore(_ context.Context, st *domain.Store) (string, error) {
	if id, ok := w.store.stores[st.TaxID]; ok {
		return id, nil
	}
	if id, ok := w.stores[st.TaxID]; ok {
		return id, nil
	}
	id := w.nextID("store")
	w.stores[st.TaxID] = id
	return id, nil
}

func (w *memWriter) UpsertProduct(_ context.Context, p *domain.Product) (string, error) {
	key := p.DedupKey()
	w.upsertOrder = append(w.upsertOrder, key)
	if id, ok := w.store.products[key]; ok {
		return id, nil
	}
	if id, ok := w.products[key]; ok {
		return id, nil
	}
	id := w.nextID("product")
	w.products[key] = id
	return id, nil
}

func (w *memWriter) InsertReceipt(_ context.Context, r *domain.Receipt) error {
	if w.store.raceWinner != "" {
		return &domain.DuplicateReceiptError{AccessKey: r.AccessKey}
	}
	for id, existing := range w.store.receipts {
		if existing.UserID == r.UserID && existing.AccessKey == r.AccessKey {
			return &domain.DuplicateReceiptError{ExistingID: id, AccessKey: r.AccessKey}
		}
	}
	cp := *r
	w.receipt = &cp
	return nil
}

func (w *memWriter) InsertItems(_ context.Context, items []domain.ReceiptItem) error {
	if w.store.failItems != nil {
		return w.store.failItems
	}
	w.items = append(w.items, items...)
	return nil
}

type prefixCipher struct {
	err error
}

func (c prefixCipher) Encrypt(plain []byte) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	return append([]byte("sealed:"), plain...), nil
}

func (c prefixCipher) Decrypt(sealed []byte) ([]byte, error) {
	rest, ok := strings.CutPrefix(string(sealed), "sealed:")
	if !ok {
		return nil, errors.New("not sealed")
	}
	return []byte(rest), nil
}

type providerFake struct {
	result *domain.ProviderQueryResult
	err    error
	calls  int
}

func (p *providerFake) Fetch(_ context.Context, key domain.AccessKey) (*domain.ProviderQueryResult, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	r := *p.result
	r.AccessKey = key
	return &r, nil
}

type publisherFake struct {
	err    error
	events []domain.ReceiptIngested
}

func (p *publisherFake) PublishReceiptIngested(_ context.Context, e domain.ReceiptIngested) error {
	p.events = append(p.events, e)
	return p.err
}

type recorderFake struct {
	outcomes []string
	issues   []string
}

func (r *recorderFake) RecordIngest(outcome string, _ time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recorderFake) RecordQualityIssue(code string) {
	r.issues = append(r.issues, code)
}
