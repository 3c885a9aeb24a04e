package whatsapp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marianovz/wa-blast/config"
	"github.com/marianovz/wa-blast/domains/transport"
	"github.com/sirupsen/logrus"
)

// Purge removes on-disk session artifacts for the account. Light mode keeps
// the credential database and only drops corruptible sidecars plus stale QR
// images; aggressive mode removes the database too, forcing a fresh pairing
// on the next connect.
func (d *Dialer) Purge(accountID string, mode transport.PurgeMode) error {
	trimmed := strings.TrimSpace(accountID)
	if trimmed == "" {
		return nil
	}

	dbPath := fmt.Sprintf("%s/whatsapp-%s.db", config.PathStorages, trimmed)

	removeFileIfExists(dbPath + "-wal")
	removeFileIfExists(dbPath + "-shm")
	removeGlob(fmt.Sprintf("%s/scan-qr-%s-*.png", config.PathQrCode, trimmed))

	if mode == transport.PurgeAggressive {
		removeFileIfExists(dbPath)
		logrus.Infof("[CLEANUP] Session store for account %s removed, next connect requires pairing", trimmed)
	}
	return nil
}

func removeFileIfExists(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logrus.Errorf("[CLEANUP] Failed to remove %s: %v", path, err)
	}
}

func removeGlob(pattern string) {
	files, _ := filepath.Glob(pattern)
	for _, f := range files {
		if strings.Contains(f, ".gitignore") {
			continue
		}
		os.Remove(f)
	}
}
