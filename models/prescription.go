package models

import (
	"time"

	"bitbucket.org/mmdatafocus/pharmacy_backend/utils"
	"gorm.io/gorm"
)

type Prescription struct {
	ID        int                `gorm:"primary_key" json:"prescription_id"`
	PatientId *int               `gorm:"index" json:"patient_id"`
	Status    PrescriptionStatus `gorm:"type:enum('Pending Verification','Verified');not null;default:'Pending Verification'" json:"status"`
	CreatedAt time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

// MarkPrescriptionVerified runs inside the checkout transaction so the status
// flip commits or rolls back together with the sale.
func MarkPrescriptionVerified(tx *gorm.DB, prescriptionId int) error {
	result := tx.Model(&Prescription{}).
		Where("id = ?", prescriptionId).
		Update("status", PrescriptionStatusVerified)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// MySQL reports zero affected rows for a same-value update, so an
		// already verified prescription lands here too.
		var count int64
		if err := tx.Model(&Prescription{}).Where("id = ?", prescriptionId).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return utils.ErrorRecordNotFound
		}
	}
	return nil
}
