package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/agenthands/geargraph/internal/core/model"
)

var (
	ErrNotFound        = errors.New("review item not found")
	ErrAlreadyResolved = errors.New("review item already resolved")
)

const keyPrefix = "review/"

// Filter selects items by status and kind. Zero values match everything.
type Filter struct {
	Status model.ReviewStatus
	Kind   model.ReviewKind
}

func (f Filter) match(it model.ReviewItem) bool {
	return (f.Status == "" || it.Status == f.Status) && (f.Kind == "" || it.Kind == f.Kind)
}

// BadgerStore keeps review items as JSON values keyed by their ID.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens the store at path, or an in-memory store when path
// is empty.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Put stores item unless an item with the same ID exists. It reports
// whether the item was new.
func (s *BadgerStore) Put(item model.ReviewItem) (bool, error) {
	if item.ID == "" {
		return false, errors.New("review item without id")
	}
	if item.Status == "" {
		item.Status = model.ReviewPending
	}
	data, err := json.Marshal(item)
	if err != nil {
		return false, err
	}

	created := false
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(keyPrefix + item.ID))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		created = true
		return txn.Set([]byte(keyPrefix+item.ID), data)
	})
	return created, err
}

func (s *BadgerStore) Get(id string) (model.ReviewItem, error) {
	var item model.ReviewItem
	err := s.db.View(func(txn *badger.Txn) error {
		it, err := txn.Get([]byte(keyPrefix + id))
		if err != nil {
			return err
		}
		return it.Value(func(val []byte) error {
			return json.Unmarshal(val, &item)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.ReviewItem{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return item, err
}

// List returns matching items, oldest first.
func (s *BadgerStore) List(f Filter) ([]model.ReviewItem, error) {
	var out []model.ReviewItem
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var item model.ReviewItem
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			}); err != nil {
				return err
			}
			if f.match(item) {
				out = append(out, item)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, err
}

func (s *BadgerStore) CountPending() (int, error) {
	items, err := s.List(Filter{Status: model.ReviewPending})
	return len(items), err
}

// Resolve records the decision on a pending item.
func (s *BadgerStore) Resolve(id string, d model.Decision, at time.Time) (model.ReviewItem, error) {
	var item model.ReviewItem
	err := s.db.Update(func(txn *badger.Txn) error {
		it, err := txn.Get([]byte(keyPrefix + id))
		if err != nil {
			return err
		}
		if err := it.Value(func(val []byte) error { return json.Unmarshal(val, &item) }); err != nil {
			return err
		}
		if item.Status != model.ReviewPending {
			return fmt.Errorf("%s is %s: %w", id, item.Status, ErrAlreadyResolved)
		}
		item.Status = statusFor(d.Action)
		item.Reviewer = d.Reviewer
		item.ResolvedAt = &at
		dec := d
		item.Decision = &dec

		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		return txn.Set([]byte(keyPrefix+id), data)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.ReviewItem{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return item, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func statusFor(a model.DecisionAction) model.ReviewStatus {
	switch a {
	case model.DecisionEdit:
		return model.ReviewEdited
	case model.DecisionReject:
		return model.ReviewRejected
	default:
		return model.ReviewAccepted
	}
}
