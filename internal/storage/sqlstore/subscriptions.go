package sqlstore

import (
	"context"

	"gorm.io/gorm"

	"github.com/tidemail/store/internal/mailstore"
)

// subscriptionStore implements mailstore.SubscriptionStore over the
// generic mailstore_subscriptions key-value table, adapted from the
// sql_table module's flat TableEntry lookup.
type subscriptionStore struct {
	db *gorm.DB
}

func newSubscriptionStore(db *gorm.DB) *subscriptionStore {
	return &subscriptionStore{db: db}
}

func (s *subscriptionStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	var row subscriptionRow
	err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if err == gorm.ErrRecordNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, mailstore.WrapStorage(err)
	}
	return row.Value, true, nil
}

func (s *subscriptionStore) Keys() ([]string, error) {
	var keys []string
	err := s.db.Model(&subscriptionRow{}).Pluck("key", &keys).Error
	return keys, mailstore.WrapStorage(err)
}

func (s *subscriptionStore) SetKey(k, v string) error {
	row := subscriptionRow{Key: k, Value: v}
	return mailstore.WrapStorage(s.db.Save(&row).Error)
}

func (s *subscriptionStore) RemoveKey(k string) error {
	return mailstore.WrapStorage(s.db.Delete(&subscriptionRow{}, "key = ?", k).Error)
}
