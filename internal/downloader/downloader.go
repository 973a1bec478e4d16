// Package downloader runs the two-phase component download: an encrypted,
// authenticated metadata call that yields a signed object URL, then a plain
// credential-free fetch of the archive, which is handed to the installer.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nupi-ai/nexus/internal/constants"
	"github.com/nupi-ai/nexus/internal/installer"
	"github.com/nupi-ai/nexus/internal/notify"
	"github.com/nupi-ai/nexus/internal/observability"
	"github.com/nupi-ai/nexus/internal/registry"
	"github.com/nupi-ai/nexus/internal/sanitize"
	"github.com/nupi-ai/nexus/internal/storage"
	"github.com/nupi-ai/nexus/internal/validate"
)

const maxObjectSize = 500 * 1024 * 1024 // 500 MB

var (
	// ErrUnauthorized is returned when no token is available or the registry
	// rejects the download request.
	ErrUnauthorized = errors.New("downloader: unauthorized")
	// ErrInvalidServerResponse is returned when a successful metadata
	// response lacks a usable signed URL.
	ErrInvalidServerResponse = errors.New("downloader: invalid server response")
	// ErrObjectFetchFailed is returned when the signed URL fetch fails.
	ErrObjectFetchFailed = errors.New("downloader: object fetch failed")
)

// Registry is the part of the registry client the downloader needs.
type Registry interface {
	RequestDownload(ctx context.Context, id, token string) (*registry.DownloadTicket, error)
	GetComponent(ctx context.Context, id string) (*registry.ComponentInfo, error)
}

// TokenSource supplies the stored bearer token.
type TokenSource interface {
	Token() string
}

// Extractor unpacks an archive into storage.
type Extractor interface {
	Extract(ctx context.Context, archive []byte, destRoot string) (*installer.Result, error)
}

// Options configures a Downloader.
type Options struct {
	Registry  Registry
	Tokens    TokenSource
	Extractor Extractor
	Storage   storage.Storage
	// Folder is the storage-relative install folder.
	Folder string
	// HTTPClient fetches signed URLs. Defaults to a client with a five minute
	// timeout that re-validates every redirect target.
	HTTPClient *http.Client
	// AllowPrivateObjectHosts permits loopback and private signed URLs.
	AllowPrivateObjectHosts bool
	Notifier                notify.Notifier
	Metrics                 *observability.Metrics
}

// Viewer is the usage snippet shipped with a component.
type Viewer struct {
	File string `json:"file"`
	Code string `json:"code"`
}

// Result describes an installed component.
type Result struct {
	ID          string                   `json:"id"`
	DisplayName string                   `json:"displayName"`
	RootName    string                   `json:"rootName,omitempty"`
	Viewer      *Viewer                  `json:"viewer,omitempty"`
	Written     []string                 `json:"written"`
	Blocked     []installer.BlockedEntry `json:"-"`
}

// Downloader fetches and installs components.
type Downloader struct {
	registry     Registry
	tokens       TokenSource
	extractor    Extractor
	storage      storage.Storage
	folder       string
	http         *http.Client
	allowPrivate bool
	notifier     notify.Notifier
	metrics      *observability.Metrics
}

// New creates a downloader.
func New(opts Options) (*Downloader, error) {
	if opts.Registry == nil || opts.Extractor == nil || opts.Storage == nil {
		return nil, fmt.Errorf("downloader: registry, extractor and storage are required")
	}
	folder := storage.Normalize(opts.Folder)
	if folder == "" {
		folder = constants.DefaultDownloadFolder
	}

	d := &Downloader{
		registry:     opts.Registry,
		tokens:       opts.Tokens,
		extractor:    opts.Extractor,
		storage:      opts.Storage,
		folder:       folder,
		http:         opts.HTTPClient,
		allowPrivate: opts.AllowPrivateObjectHosts,
		notifier:     opts.Notifier,
		metrics:      opts.Metrics,
	}
	if d.http == nil {
		d.http = d.newObjectClient()
	}
	if d.notifier == nil {
		d.notifier = notify.Discard{}
	}
	return d, nil
}

// Deploy installs component id and reports the outcome to the user: a
// single failure notice, or a success notice with the viewer snippet when
// the component ships one. Failure detail goes to the log only.
func (d *Downloader) Deploy(ctx context.Context, id, token string) (*Result, error) {
	res, err := d.DownloadComponent(ctx, id, token)
	if err != nil {
		log.Printf("[Downloader] Deployment of %q failed: %v", id, err)
		d.notifier.Notice(failureNotice(err))
		return nil, err
	}

	if res.Viewer != nil {
		d.notifier.Installed(res.DisplayName, res.Viewer.File, res.Viewer.Code)
	} else {
		d.notifier.Notice("Successfully installed: " + res.DisplayName)
	}
	return res, nil
}

func failureNotice(err error) string {
	if errors.Is(err, ErrUnauthorized) {
		return "Deployment failed: authentication required. Please log in and try again."
	}
	return "Deployment failed: the component could not be installed."
}

// DownloadComponent fetches component id and installs it. An empty token
// falls back to the stored one; with neither, ErrUnauthorized is returned
// before any network call.
func (d *Downloader) DownloadComponent(ctx context.Context, id, token string) (res *Result, err error) {
	defer func() { d.metrics.Download(err == nil) }()

	id = strings.TrimSpace(id)
	if !validate.ComponentID(id) {
		return nil, fmt.Errorf("downloader: invalid component id %q", id)
	}
	token = strings.TrimSpace(token)
	if token == "" && d.tokens != nil {
		token = d.tokens.Token()
	}
	if token == "" {
		return nil, fmt.Errorf("%w: no token supplied or stored", ErrUnauthorized)
	}

	ctx, span := observability.StartSpan(ctx, "downloader.download", attribute.String("nexus.component_id", id))
	defer func() { observability.EndSpan(span, err) }()

	ticket, err := d.requestDownload(ctx, id, token)
	if err != nil {
		return nil, err
	}

	name := sanitize.Line(ticket.Name, sanitize.MaxNameBytes)
	if name == "" {
		if looked, ok := d.lookupName(ctx, id); ok {
			name = looked
		} else {
			name = id
		}
	}

	archive, err := d.fetchObject(ctx, ticket.URL)
	if err != nil {
		return nil, err
	}

	extracted, err := d.extractor.Extract(ctx, archive, d.folder)
	if err != nil {
		return nil, fmt.Errorf("downloader: extract %s: %w", id, err)
	}

	res = &Result{
		ID:          id,
		DisplayName: name,
		RootName:    extracted.RootName,
		Written:     extracted.Written,
		Blocked:     extracted.Blocked,
	}
	if extracted.RootName != "" {
		viewer, ok, err := findViewer(ctx, d.storage, storage.Join(d.folder, extracted.RootName))
		if err != nil {
			log.Printf("[Downloader] WARNING: viewer lookup in %s failed: %v", extracted.RootName, err)
		} else if ok {
			res.Viewer = viewer
		}
	}

	log.Printf("[Downloader] Installed %s (%d files, %d blocked)", id, len(res.Written), len(res.Blocked))
	return res, nil
}

// requestDownload is phase one.
func (d *Downloader) requestDownload(ctx context.Context, id, token string) (*registry.DownloadTicket, error) {
	ctx, span := observability.StartSpan(ctx, "downloader.request_download")
	ticket, err := d.registry.RequestDownload(ctx, id, token)
	switch {
	case err != nil && registry.IsStatus(err):
		err = fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case err != nil:
		err = fmt.Errorf("downloader: request download: %w", err)
	case ticket == nil || strings.TrimSpace(ticket.URL) == "":
		err = fmt.Errorf("%w: missing download URL", ErrInvalidServerResponse)
	}
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// lookupName resolves a display name through the public metadata call.
// Failure is not an error; the caller falls back to the id.
func (d *Downloader) lookupName(ctx context.Context, id string) (string, bool) {
	info, err := d.registry.GetComponent(ctx, id)
	if err != nil {
		log.Printf("[Downloader] Name lookup for %q failed, using id: %v", id, err)
		return "", false
	}
	name := sanitize.Line(info.Name, sanitize.MaxNameBytes)
	return name, name != ""
}

// fetchObject is phase two. No registry credential or client header is
// sent to the object store.
func (d *Downloader) fetchObject(ctx context.Context, rawURL string) (data []byte, err error) {
	if err := validate.SignedURL(rawURL, d.allowPrivate); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServerResponse, err)
	}

	ctx, span := observability.StartSpan(ctx, "downloader.fetch_object")
	defer func() { observability.EndSpan(span, err) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrObjectFetchFailed, err)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrObjectFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrObjectFetchFailed, resp.StatusCode)
	}

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrObjectFetchFailed, err)
	}
	if int64(len(data)) > maxObjectSize {
		return nil, fmt.Errorf("%w: object exceeds maximum size (%d bytes)", ErrObjectFetchFailed, maxObjectSize)
	}
	d.metrics.ObjectReceived(len(data))
	span.SetAttributes(attribute.Int("nexus.object_bytes", len(data)))
	return data, nil
}

func (d *Downloader) newObjectClient() *http.Client {
	c := registry.NewHTTPClient(constants.ObjectFetchTimeout)
	base := c.CheckRedirect
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if err := base(req, via); err != nil {
			return err
		}
		return validate.SignedURL(req.URL.String(), d.allowPrivate)
	}
	return c
}
