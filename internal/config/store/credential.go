package store

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/nupi-ai/nexus/internal/constants"
)

// Setting keys.
const (
	SettingDeviceID       = "device_id"
	SettingDownloadFolder = "download_folder"
	SettingAuthToken      = "auth_token"
)

// Credential is the registry identity of this installation.
type Credential struct {
	DeviceID  string
	AuthToken string // empty when logged out
}

// LoadCredential returns the stored credential. The device id is generated
// and persisted on first call and never changes afterwards.
func (s *Store) LoadCredential(ctx context.Context) (Credential, error) {
	values, err := s.LoadSettings(ctx, SettingDeviceID, SettingAuthToken)
	if err != nil {
		return Credential{}, err
	}

	cred := Credential{DeviceID: strings.TrimSpace(values[SettingDeviceID])}
	if cred.DeviceID == "" {
		if s.readOnly {
			return Credential{}, fmt.Errorf("config: device id not initialised (store opened read-only)")
		}
		cred.DeviceID = uuid.NewString()
		if err := s.SaveSettings(ctx, map[string]string{SettingDeviceID: cred.DeviceID}); err != nil {
			return Credential{}, fmt.Errorf("config: persist device id: %w", err)
		}
	}

	if raw := values[SettingAuthToken]; raw != "" {
		token, err := s.openSecret(raw)
		if err != nil {
			// An unreadable token is equivalent to being logged out; the
			// next successful exchange overwrites it.
			log.Printf("[Config] WARNING: stored auth token is unreadable, ignoring it: %v", err)
		} else {
			cred.AuthToken = token
		}
	}

	return cred, nil
}

// SaveAuthToken seals and stores token. An empty token removes it.
func (s *Store) SaveAuthToken(ctx context.Context, token string) error {
	if token == "" {
		return s.DeleteSetting(ctx, SettingAuthToken)
	}
	if s.sealer == nil {
		return fmt.Errorf("config: save auth token: no encryption key available")
	}
	sealed, err := s.sealer.Seal(token)
	if err != nil {
		return fmt.Errorf("config: seal auth token: %w", err)
	}
	return s.SaveSettings(ctx, map[string]string{SettingAuthToken: sealed})
}

// DownloadFolder returns the configured install folder, relative to the
// storage root.
func (s *Store) DownloadFolder(ctx context.Context) (string, error) {
	folder, err := s.GetSetting(ctx, SettingDownloadFolder)
	if IsNotFound(err) || (err == nil && strings.TrimSpace(folder) == "") {
		return constants.DefaultDownloadFolder, nil
	}
	if err != nil {
		return "", err
	}
	return folder, nil
}

// SetDownloadFolder stores the install folder.
func (s *Store) SetDownloadFolder(ctx context.Context, folder string) error {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return s.DeleteSetting(ctx, SettingDownloadFolder)
	}
	return s.SaveSettings(ctx, map[string]string{SettingDownloadFolder: folder})
}

func (s *Store) openSecret(raw string) (string, error) {
	if s.sealer == nil {
		return "", fmt.Errorf("no encryption key available")
	}
	return s.sealer.Open(raw)
}
