package models

import (
	"time"

	"gorm.io/gorm"
)

type AuditLog struct {
	ID         int             `gorm:"primary_key" json:"id"`
	EmpId      int             `gorm:"index;not null" json:"emp_id"`
	ActionType AuditActionType `gorm:"size:50;not null" json:"action_type"`
	Details    string          `gorm:"type:text" json:"details"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// CreateAuditLog appends an audit row inside the caller's transaction so the
// record commits or rolls back with the operation it describes.
func CreateAuditLog(tx *gorm.DB, empId int, action AuditActionType, details string) error {
	return tx.Create(&AuditLog{
		EmpId:      empId,
		ActionType: action,
		Details:    details,
	}).Error
}
