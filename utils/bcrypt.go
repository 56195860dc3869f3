package utils

import "golang.org/x/crypto/bcrypt"

// HashPassword hashes at bcrypt's default cost; stored hashes embed their
// cost, so raising it later only affects new passwords.
func HashPassword(s string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(s), bcrypt.DefaultCost)
}

func ComparePassword(hashed string, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}
