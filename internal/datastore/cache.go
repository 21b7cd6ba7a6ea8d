// cache.go: edge rule cache persistence
package datastore

import (
	"fmt"

	"gorm.io/gorm"
)

// cacheMetaRowID is the fixed primary key of the single cache metadata row.
const cacheMetaRowID = 1

// ReplaceCachedRules atomically replaces the edge rule cache with a new
// snapshot. The cached rule table is cleared, the new rows are inserted and
// the metadata row is rewritten in a single transaction so a crash mid-swap
// never leaves a mixed rule set behind.
func (ds *DataStore) ReplaceCachedRules(meta *CacheMeta, cached []CachedRule) error {
	tx := ds.DB.Begin()
	if tx.Error != nil {
		return fmt.Errorf("starting transaction: %w", tx.Error)
	}

	// Roll back the transaction if a panic occurs
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&CachedRule{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing cached rules: %w", err)
	}

	if len(cached) > 0 {
		if err := tx.CreateInBatches(cached, 200).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("saving cached rules: %w", err)
		}
	}

	meta.ID = cacheMetaRowID
	if err := tx.Save(meta).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("saving cache metadata: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// LoadCachedRules returns all cached rules ordered by rule ID.
func (ds *DataStore) LoadCachedRules() ([]CachedRule, error) {
	var cached []CachedRule
	if err := ds.DB.Order("id").Find(&cached).Error; err != nil {
		return nil, fmt.Errorf("loading cached rules: %w", err)
	}
	return cached, nil
}

// GetCacheMeta retrieves the cache metadata row. A missing row reports
// gorm.ErrRecordNotFound, which callers treat as "never synced".
func (ds *DataStore) GetCacheMeta() (CacheMeta, error) {
	var meta CacheMeta
	if err := ds.DB.First(&meta, cacheMetaRowID).Error; err != nil {
		if isRecordNotFound(err) {
			return CacheMeta{}, gorm.ErrRecordNotFound
		}
		return CacheMeta{}, fmt.Errorf("getting cache metadata: %w", err)
	}
	return meta, nil
}
