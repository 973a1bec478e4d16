package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/nupi-ai/nexus/internal/config"
	configstore "github.com/nupi-ai/nexus/internal/config/store"
	"github.com/nupi-ai/nexus/internal/credential"
	"github.com/nupi-ai/nexus/internal/deploy"
	"github.com/nupi-ai/nexus/internal/downloader"
	"github.com/nupi-ai/nexus/internal/envelope"
	"github.com/nupi-ai/nexus/internal/installer"
	"github.com/nupi-ai/nexus/internal/inventory"
	"github.com/nupi-ai/nexus/internal/notify"
	"github.com/nupi-ai/nexus/internal/observability"
	"github.com/nupi-ai/nexus/internal/registry"
	"github.com/nupi-ai/nexus/internal/storage"
	"github.com/nupi-ai/nexus/internal/tlswarn"
)

// Ops calls per second allowed against the registry.
const (
	opsRateLimit = 5
	opsRateBurst = 5
)

// app holds the wired pipeline for one command invocation.
type app struct {
	store     *configstore.Store
	storage   *storage.DirStorage
	registry  *registry.Client
	broker    *credential.Broker
	installer *installer.Installer
	download  *downloader.Downloader
	inventory *inventory.Inventory
	notifier  notify.Notifier
	metrics   *observability.Metrics

	metricsFile string
	logFile     *os.File
}

// newApp wires the pipeline from the persistent flags of cmd.
func newApp(cmd *cobra.Command) (*app, error) {
	flags := cmd.Flags()
	apiURL, _ := flags.GetString("api-url")
	vault, _ := flags.GetString("vault")
	profile, _ := flags.GetString("profile")
	metricsFile, _ := flags.GetString("metrics-textfile")
	verbose, _ := flags.GetBool("verbose")
	allowPrivate, _ := flags.GetBool("allow-private-hosts")

	paths, err := config.EnsureDirs()
	if err != nil {
		return nil, fmt.Errorf("prepare nexus home: %w", err)
	}

	a := &app{metricsFile: metricsFile}
	if err := a.setupLogging(cmd, paths.LogFile, verbose); err != nil {
		return nil, err
	}

	ctx := cmd.Context()
	st, err := configstore.Open(configstore.Options{ProfileName: profile, DBPath: paths.ConfigDB})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open settings: %w", err)
	}
	a.store = st

	vaultStorage, err := storage.NewDirStorage(config.ExpandPath(vault))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("open vault: %w", err)
	}
	a.storage = vaultStorage

	cred, err := st.LoadCredential(ctx)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("load credential: %w", err)
	}

	a.metrics = observability.NewMetrics()
	a.notifier = notify.NewWriter(cmd.OutOrStdout())

	metrics := a.metrics
	client, err := registry.New(registry.Options{
		BaseURL:  apiURL,
		DeviceID: cred.DeviceID,
		Limiter:  rate.NewLimiter(rate.Limit(opsRateLimit), opsRateBurst),
		SessionOptions: []envelope.Option{
			envelope.WithRotationHook(func(keyID string) {
				metrics.KeyRotated()
				log.Printf("[Envelope] session key rotated to %s", keyID)
			}),
		},
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.registry = client

	broker, err := credential.NewBroker(ctx, credential.Options{
		Store:    st,
		Registry: client,
		Notifier: a.notifier,
		Metrics:  a.metrics,
		OnAuthChange: func() {
			log.Printf("[Auth] credential changed")
		},
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.broker = broker

	folder, err := st.DownloadFolder(ctx)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("load download folder: %w", err)
	}

	if allowPrivate {
		tlswarn.PrivateHosts()
	}
	a.installer = installer.New(vaultStorage, a.metrics)
	a.download, err = downloader.New(downloader.Options{
		Registry:                client,
		Tokens:                  broker,
		Extractor:               a.installer,
		Storage:                 vaultStorage,
		Folder:                  folder,
		AllowPrivateObjectHosts: allowPrivate,
		Notifier:                a.notifier,
		Metrics:                 a.metrics,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.inventory = inventory.New(vaultStorage, folder)
	return a, nil
}

// deployHandler builds a deploy handler. With assumeYes the confirmation
// prompt is skipped.
func (a *app) deployHandler(cmd *cobra.Command, assumeYes bool) *deploy.Handler {
	var confirm deploy.Confirmer = autoConfirm{}
	if !assumeYes {
		confirm = &promptConfirmer{in: cmd.InOrStdin(), out: cmd.OutOrStdout()}
	}
	return deploy.NewHandler(a.broker, a.download, confirm, a.notifier)
}

func (a *app) setupLogging(cmd *cobra.Command, logPath string, verbose bool) error {
	log.SetFlags(log.LstdFlags)
	if verbose {
		log.SetOutput(cmd.ErrOrStderr())
		return nil
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	a.logFile = f
	log.SetOutput(f)
	return nil
}

// close flushes metrics and releases the settings store.
func (a *app) close() {
	if a.metricsFile != "" && a.metrics != nil {
		if err := a.metrics.WriteTextfile(a.metricsFile); err != nil {
			log.Printf("[Metrics] WARNING: write textfile %s: %v", a.metricsFile, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("[Config] WARNING: close store: %v", err)
		}
	}
	if a.logFile != nil {
		log.SetOutput(os.Stderr)
		a.logFile.Close()
	}
}

// withApp runs fn against a freshly wired app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return newOutputFormatter(cmd).Error("Failed to initialise", err)
	}
	defer a.close()
	return fn(cmd.Context(), a)
}

type autoConfirm struct{}

func (autoConfirm) Confirm(context.Context, string, string) (bool, error) { return true, nil }

// promptConfirmer asks a y/N question on the terminal.
type promptConfirmer struct {
	in  io.Reader
	out io.Writer
}

func (p *promptConfirmer) Confirm(ctx context.Context, title, message string) (bool, error) {
	fmt.Fprintf(p.out, "%s\n%s [y/N]: ", title, message)

	answer := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(p.in).ReadString('\n')
		if err != nil && line == "" {
			errCh <- err
			return
		}
		answer <- line
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case err := <-errCh:
		if err == io.EOF {
			return false, nil
		}
		return false, err
	case line := <-answer:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
