package models

import "time"

type Patient struct {
	ID        int       `gorm:"primary_key" json:"patient_id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Phone     string    `gorm:"size:50" json:"phone"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
