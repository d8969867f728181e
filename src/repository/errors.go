package repository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrDuplicateKey is returned when a unique constraint rejects an insert.
var ErrDuplicateKey = errors.New("duplicate key")

// isDuplicateKey recognises unique violations from both the translated
// gorm error and raw driver messages.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
