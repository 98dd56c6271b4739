package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// MaxBackups is the maximum number of backups kept per config file.
	MaxBackups = 3

	// BackupSuffix is the file extension for backup files.
	BackupSuffix = ".bak"

	// backupStampFormat is fixed width so backup names sort chronologically.
	backupStampFormat = "20060102-150405.000000000"

	// maxBackupAttempts bounds the sequence suffixes tried within one instant.
	maxBackupAttempts = 1000
)

// backupClock is the time source for backup names.
var backupClock = time.Now

// Backup copies the config file at path to a timestamped sibling and prunes
// backups beyond MaxBackups. It returns "" when path does not exist.
func Backup(path string) (string, error) {
	if !fileExists(path) {
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	backupPath, err := writeBackup(path, data)
	if err != nil {
		return "", err
	}

	// Pruning is best effort; the backup itself succeeded.
	_ = pruneBackups(path)

	return backupPath, nil
}

// writeBackup creates a new backup file and never overwrites an existing one.
// Backups taken within the same instant get a zero-padded sequence suffix,
// which keeps them in creation order.
func writeBackup(path string, data []byte) (string, error) {
	base := fmt.Sprintf("%s%s.%s", path, BackupSuffix, backupClock().Format(backupStampFormat))
	for seq := range maxBackupAttempts {
		candidate := base
		if seq > 0 {
			candidate = fmt.Sprintf("%s-%03d", base, seq)
		}
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create backup: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			_ = os.Remove(candidate)
			return "", fmt.Errorf("failed to write backup: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to write backup: %w", err)
		}
		return candidate, nil
	}
	return "", fmt.Errorf("failed to create backup: too many backups at %s", base)
}

// ListBackups returns the backups of the config file at path, newest first.
func ListBackups(path string) ([]string, error) {
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list config directory: %w", err)
	}

	prefix := filepath.Base(path) + BackupSuffix + "."
	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) {
			backups = append(backups, filepath.Join(dir, entry.Name()))
		}
	}

	// The timestamp suffix sorts chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}

func pruneBackups(path string) error {
	backups, err := ListBackups(path)
	if err != nil || len(backups) <= MaxBackups {
		return err
	}
	for _, b := range backups[MaxBackups:] {
		_ = os.Remove(b)
	}
	return nil
}

// Restore replaces the config file at path with backupPath, backing up the
// current file first.
func Restore(path, backupPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}
	if _, err := Backup(path); err != nil {
		return fmt.Errorf("failed to backup current config before restore: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write restored config: %w", err)
	}
	return nil
}
