package utils

import "golang.org/x/crypto/bcrypt"

// HashPassword returns the bcrypt hash stored in employees.password_hash.
func HashPassword(plain string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// ComparePassword reports a nil error only when plain matches the stored hash.
func ComparePassword(storedHash string, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(plain))
}
