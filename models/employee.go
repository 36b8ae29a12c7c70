package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/pharmacy_backend/config"
	"gorm.io/gorm"
)

type Employee struct {
	ID           int       `gorm:"primary_key" json:"emp_id"`
	Name         string    `gorm:"size:100;not null" json:"name"`
	Email        string    `gorm:"size:100;uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"size:100;not null" json:"-"`
	Role         string    `gorm:"size:50" json:"role"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetEmployeeByEmail(ctx context.Context, email string) (*Employee, error) {
	db := config.GetDB()
	var employee Employee
	err := db.WithContext(ctx).Where("email = ?", email).Take(&employee).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("employee not found")
		}
		return nil, err
	}
	return &employee, nil
}
