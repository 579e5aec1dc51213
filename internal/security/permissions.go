package security

import (
	"fmt"
	"os"
)

const (
	// PermSecretFile is for configuration files that may hold the webhook secret.
	// rw-r----- (0640): owner can read/write, group can read, others have no access.
	PermSecretFile os.FileMode = 0640

	// PermLogFile is for log files, which carry message ids and sender numbers.
	PermLogFile os.FileMode = 0640
)

// IsWorldReadable checks if a file is readable by others.
func IsWorldReadable(perm os.FileMode) bool {
	return perm&0004 != 0
}

// IsWorldWritable checks if a file is writable by others.
func IsWorldWritable(perm os.FileMode) bool {
	return perm&0002 != 0
}

// ValidateSecurePermissions reports a file holding secrets that other users
// can read or modify. A missing file is not an error.
func ValidateSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	perm := info.Mode().Perm()

	if IsWorldWritable(perm) {
		return fmt.Errorf("file %s is world-writable (%04o), expected %04o", path, perm, PermSecretFile)
	}

	if IsWorldReadable(perm) {
		return fmt.Errorf("file %s is world-readable (%04o), expected %04o", path, perm, PermSecretFile)
	}

	return nil
}
