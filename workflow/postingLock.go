package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireStockPostingLock serializes manual stock adjustments per product
// across instances using MySQL advisory locks. Allocation does not need it
// (the batch row locks serialize allocation); the adjustment path does,
// because its read-compute-write spans the product row and a batch insert.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same
// *gorm.DB transaction that does the posting.
func AcquireStockPostingLock(tx *gorm.DB, productId int) error {
	lockName := fmt.Sprintf("stockpost:%d", productId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire stock posting lock for product_id=%d", productId)
	}
	return nil
}

func ReleaseStockPostingLock(tx *gorm.DB, productId int) {
	lockName := fmt.Sprintf("stockpost:%d", productId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
