// seed-admin creates or updates the pharmacy admin employee.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-admin
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/pharmacy_backend/config"
	"bitbucket.org/mmdatafocus/pharmacy_backend/models"
	"bitbucket.org/mmdatafocus/pharmacy_backend/utils"
	"gorm.io/gorm"
)

const (
	adminEmail = "admin@pharmacy.local"
	adminName  = "Pharmacy Admin"
	adminRole  = "Admin"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		fmt.Fprintln(os.Stderr, "SEED_ADMIN_PASSWORD is required")
		os.Exit(1)
	}

	hashed, err := utils.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}

	var existing models.Employee
	err = db.WithContext(ctx).Model(&models.Employee{}).Where("email = ?", adminEmail).First(&existing).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fmt.Fprintf(os.Stderr, "failed to lookup employee: %v\n", err)
			os.Exit(1)
		}
		e := models.Employee{
			Name:         adminName,
			Email:        adminEmail,
			PasswordHash: hashed,
			Role:         adminRole,
		}
		if err := db.WithContext(ctx).Create(&e).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin employee: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created admin employee: email=%q (role=%s)\n", adminEmail, adminRole)
		return
	}

	// Update existing employee: ensure password and admin role
	if err := db.WithContext(ctx).Model(&models.Employee{}).Where("email = ?", adminEmail).Updates(map[string]any{
		"password_hash": hashed,
		"role":          adminRole,
	}).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to update admin employee: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Updated admin employee: email=%q (role=%s)\n", adminEmail, adminRole)
}
