package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nupi-ai/nexus/internal/constants"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "config.db")
	s, err := Open(Options{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct NotFoundError", NotFoundError{Entity: "test", Key: "k"}, true},
		{"wrapped NotFoundError", fmt.Errorf("outer: %w", NotFoundError{Entity: "test"}), true},
		{"nil error", nil, false},
		{"other error type", errors.New("something"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNotFoundErrorMessage(t *testing.T) {
	t.Parallel()

	if got := (NotFoundError{Entity: "setting", Key: "device_id"}).Error(); got != "setting device_id not found" {
		t.Errorf("unexpected message %q", got)
	}
	if got := (NotFoundError{Entity: "setting"}).Error(); got != "setting not found" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestSaveAndLoadSettings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveSettings(ctx, map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	if err := s.SaveSettings(ctx, map[string]string{"a": "3"}); err != nil {
		t.Fatalf("SaveSettings overwrite: %v", err)
	}

	all, err := s.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if all["a"] != "3" || all["b"] != "2" {
		t.Fatalf("unexpected settings %v", all)
	}

	subset, err := s.LoadSettings(ctx, "b")
	if err != nil {
		t.Fatalf("LoadSettings subset: %v", err)
	}
	if len(subset) != 1 || subset["b"] != "2" {
		t.Fatalf("unexpected subset %v", subset)
	}
}

func TestGetSettingNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSetting(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestDeviceIDGeneratedOnce(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "config.db")
	ctx := context.Background()

	s, err := Open(Options{DBPath: dbPath})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first, err := s.LoadCredential(ctx)
	if err != nil {
		t.Fatalf("LoadCredential: %v", err)
	}
	if first.DeviceID == "" {
		t.Fatal("expected a generated device id")
	}
	s.Close()

	reopened, err := Open(Options{DBPath: dbPath})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	second, err := reopened.LoadCredential(ctx)
	if err != nil {
		t.Fatalf("LoadCredential after reopen: %v", err)
	}
	if second.DeviceID != first.DeviceID {
		t.Fatalf("device id changed: %q -> %q", first.DeviceID, second.DeviceID)
	}
}

func TestAuthTokenSealedAtRest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveAuthToken(ctx, "tok123"); err != nil {
		t.Fatalf("SaveAuthToken: %v", err)
	}

	raw, err := s.GetSetting(ctx, SettingAuthToken)
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if strings.Contains(raw, "tok123") {
		t.Fatalf("stored token is not sealed: %q", raw)
	}

	cred, err := s.LoadCredential(ctx)
	if err != nil {
		t.Fatalf("LoadCredential: %v", err)
	}
	if cred.AuthToken != "tok123" {
		t.Fatalf("AuthToken = %q, want tok123", cred.AuthToken)
	}

	if err := s.SaveAuthToken(ctx, ""); err != nil {
		t.Fatalf("clear token: %v", err)
	}
	cred, err = s.LoadCredential(ctx)
	if err != nil {
		t.Fatalf("LoadCredential after clear: %v", err)
	}
	if cred.AuthToken != "" {
		t.Fatalf("expected cleared token, got %q", cred.AuthToken)
	}
}

func TestUnreadableTokenTreatedAsLoggedOut(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveSettings(ctx, map[string]string{SettingAuthToken: "enc:v1:not-base64!"}); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	cred, err := s.LoadCredential(ctx)
	if err != nil {
		t.Fatalf("LoadCredential: %v", err)
	}
	if cred.AuthToken != "" {
		t.Fatalf("expected empty token, got %q", cred.AuthToken)
	}
}

func TestDownloadFolderDefault(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	folder, err := s.DownloadFolder(ctx)
	if err != nil {
		t.Fatalf("DownloadFolder: %v", err)
	}
	if folder != constants.DefaultDownloadFolder {
		t.Fatalf("folder = %q, want default %q", folder, constants.DefaultDownloadFolder)
	}

	if err := s.SetDownloadFolder(ctx, "Components"); err != nil {
		t.Fatalf("SetDownloadFolder: %v", err)
	}
	folder, _ = s.DownloadFolder(ctx)
	if folder != "Components" {
		t.Fatalf("folder = %q, want Components", folder)
	}

	if err := s.SetDownloadFolder(ctx, "  "); err != nil {
		t.Fatalf("reset folder: %v", err)
	}
	folder, _ = s.DownloadFolder(ctx)
	if folder != constants.DefaultDownloadFolder {
		t.Fatalf("folder = %q after reset, want default", folder)
	}
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "config.db")
	rw, err := Open(Options{DBPath: dbPath})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := rw.LoadCredential(context.Background()); err != nil {
		t.Fatalf("LoadCredential: %v", err)
	}
	rw.Close()

	ro, err := Open(Options{DBPath: dbPath, ReadOnly: true})
	if err != nil {
		t.Fatalf("Open read-only: %v", err)
	}
	defer ro.Close()

	if err := ro.SaveSettings(context.Background(), map[string]string{"x": "y"}); err == nil {
		t.Fatal("expected read-only store to reject writes")
	}
}
