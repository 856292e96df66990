// ABOUTME: Encryption setup for the keydrop Matrix bot
// ABOUTME: Configures E2EE with recovery key support using mautrix crypto

package bot

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"

	"github.com/2389/keydrop/internal/config"
)

// cryptoManager handles Matrix E2EE setup and lifecycle.
type cryptoManager struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// setupCrypto initializes E2EE for the Matrix client using the configured
// crypto database path. If no recovery key is configured, encryption is
// still enabled but without cross-signing. A device ID mismatch in the
// stored account resets the crypto database automatically.
func setupCrypto(ctx context.Context, client *mautrix.Client, cfg config.MatrixConfig, logger *slog.Logger) (*cryptoManager, error) {
	dbPath := cfg.CryptoDBPath
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("creating crypto database directory: %w", err)
	}
	logger.Info("setting up encryption", "db", dbPath)

	// Derive the store key from the user ID. This keeps the pickled keys
	// unreadable without the config while staying deterministic across
	// restarts.
	storeKey := deriveStoreKey(cfg.UserID)

	helper, err := initCryptoHelper(ctx, client, storeKey, dbPath, logger)
	if err != nil {
		return nil, err
	}

	// Wire up the crypto helper to the client for automatic encryption of
	// outgoing messages
	client.Crypto = helper

	manager := &cryptoManager{
		helper: helper,
		logger: logger,
	}

	// If a recovery key is configured, verify with it for cross-signing
	if cfg.RecoveryKey != "" {
		if err := manager.verifyWithRecoveryKey(ctx, cfg.RecoveryKey); err != nil {
			// Encryption still works without cross-signing
			logger.Warn("failed to verify with recovery key", "error", err)
			logger.Info("encryption enabled without cross-signing verification")
		} else {
			logger.Info("encryption initialized with cross-signing verification")
		}
	} else {
		logger.Info("encryption initialized (no recovery key - cross-signing disabled)")
	}

	return manager, nil
}

// verifyWithRecoveryKey attempts to verify the device using the provided
// recovery key, enabling cross-signing verification with other devices.
func (cm *cryptoManager) verifyWithRecoveryKey(ctx context.Context, recoveryKey string) error {
	machine := cm.helper.Machine()
	if machine == nil {
		return fmt.Errorf("crypto machine not initialized")
	}

	cm.logger.Info("verifying device with recovery key")

	if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		return fmt.Errorf("recovery key verification failed: %w", err)
	}

	cm.logger.Info("device verified with recovery key")
	return nil
}

// Close cleans up crypto resources.
func (cm *cryptoManager) Close() error {
	if cm.helper != nil {
		return cm.helper.Close()
	}
	return nil
}

// deriveStoreKey creates a deterministic store encryption key from user ID.
func deriveStoreKey(userID string) []byte {
	h := sha256.Sum256([]byte("keydrop-crypto:" + userID))
	return h[:]
}

// initCryptoHelper creates and initializes the crypto helper, with
// auto-recovery on device ID mismatch. This handles the case where a new
// login created a new device ID but the crypto store still has keys for
// the old device.
func initCryptoHelper(ctx context.Context, client *mautrix.Client, storeKey []byte, dbPath string, logger *slog.Logger) (*cryptohelper.CryptoHelper, error) {
	// Check for device ID mismatch BEFORE creating the helper to avoid DB
	// lock issues
	if needsReset, err := checkDeviceIDMismatch(dbPath, client.DeviceID.String()); err != nil {
		logger.Debug("could not check device ID", "error", err)
	} else if needsReset {
		logger.Warn("device ID mismatch detected, resetting crypto database before init")
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing old crypto database: %w", err)
		}
		_ = os.Remove(dbPath + "-wal")
		_ = os.Remove(dbPath + "-shm")
		logger.Info("crypto database reset")
	}

	helper, err := cryptohelper.NewCryptoHelper(client, storeKey, dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}

	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}

	return helper, nil
}

// checkDeviceIDMismatch opens the crypto database and checks if the stored
// device ID matches the current client device ID. Returns true if the DB
// exists and holds a different device ID.
func checkDeviceIDMismatch(dbPath string, currentDeviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false, nil // No DB, no mismatch
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	// mautrix stores the device ID in the crypto_account table
	var storedDeviceID string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&storedDeviceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil // No account stored yet
		}
		return false, err
	}

	return storedDeviceID != currentDeviceID, nil
}
