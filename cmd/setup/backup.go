package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const backupFileExt = ".bak"

// backupSQLite copies an existing database file aside before it is migrated
// and keeps at most maxBackups copies. A missing file is not an error.
func backupSQLite(dbPath string, maxBackups int, log *zap.SugaredLogger) error {
	info, err := os.Stat(dbPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	log.Infof("existing database file size: %d bytes", info.Size())

	backupPath := fmt.Sprintf("%s.%s%s", dbPath, time.Now().Format("20060102-150405"), backupFileExt)
	if err := copyFile(dbPath, backupPath, log); err != nil {
		return fmt.Errorf("failed to create DB backup: %w", err)
	}
	log.Infof("existing database backed up to %s", backupPath)
	pruneOldBackups(dbPath, maxBackups, log)
	return nil
}

func copyFile(src, dst string, log *zap.SugaredLogger) error {
	sourceFileStat, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !sourceFileStat.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}

	source, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if err := source.Close(); err != nil {
			log.Warnf("failed to close file %s: %v", src, err)
		}
	}()

	destination, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := destination.ReadFrom(source); err != nil {
		_ = destination.Close()
		return err
	}
	return destination.Close()
}

func pruneOldBackups(dbPath string, max int, log *zap.SugaredLogger) {
	dir := filepath.Dir(dbPath)
	prefix := filepath.Base(dbPath) + "."
	files, err := os.ReadDir(dir)
	if err != nil {
		log.Warnf("failed to read backup directory: %v", err)
		return
	}

	var backups []string
	for _, f := range files {
		if strings.HasPrefix(f.Name(), prefix) && strings.HasSuffix(f.Name(), backupFileExt) {
			backups = append(backups, filepath.Join(dir, f.Name()))
		}
	}
	if len(backups) <= max {
		return
	}

	// Timestamps sort lexically, oldest first.
	sort.Strings(backups)
	for _, file := range backups[:len(backups)-max] {
		if err := os.Remove(file); err != nil {
			log.Warnf("failed to remove old backup %s: %v", file, err)
		} else {
			log.Infof("removed old backup: %s", file)
		}
	}
}
