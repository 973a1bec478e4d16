// Package deploy handles protocol links such as
// obsidian://deploy-datacore?id=widget-v2&code=... and
// obsidian://beto-auth?code=...
package deploy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nupi-ai/nexus/internal/constants"
	"github.com/nupi-ai/nexus/internal/downloader"
	"github.com/nupi-ai/nexus/internal/notify"
)

var (
	ErrUnknownAction = errors.New("deploy: unknown link action")
	ErrMissingID     = errors.New("deploy: missing component id")
	ErrAuthRequired  = errors.New("deploy: authentication required")
	ErrDeclined      = errors.New("deploy: installation declined")
)

// User-facing notices.
const (
	NoticeMissingID    = "Missing 'id' in protocol URL."
	NoticeAuthRequired = "Authentication required. Please log in or use a valid deploy link."
)

// Link is a parsed protocol link.
type Link struct {
	Action string
	ID     string
	Token  string
	Code   string
}

// ParseLink parses scheme://action?params. The scheme is not checked.
func ParseLink(raw string) (Link, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Link{}, fmt.Errorf("deploy: parse link: %w", err)
	}
	action := u.Host
	if action == "" {
		action = u.Opaque
		if i := strings.IndexByte(action, '?'); i >= 0 {
			action = action[:i]
		}
	}
	if action == "" {
		action = u.Path
	}
	action = strings.Trim(action, "/")

	switch action {
	case constants.ProtocolActionDeploy, constants.ProtocolActionAuth:
	default:
		return Link{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	q := u.Query()
	return Link{
		Action: action,
		ID:     strings.TrimSpace(q.Get("id")),
		Token:  strings.TrimSpace(q.Get("token")),
		Code:   strings.TrimSpace(q.Get("code")),
	}, nil
}

// Confirmer asks the user before anything is written.
type Confirmer interface {
	Confirm(ctx context.Context, title, message string) (bool, error)
}

// Broker is the credential surface the handler needs.
type Broker interface {
	Token() string
	ExchangeCode(ctx context.Context, code string, silent bool) (string, error)
}

// Deployer installs a component and reports the outcome to the user.
type Deployer interface {
	Deploy(ctx context.Context, id, token string) (*downloader.Result, error)
}

// Handler resolves protocol links into broker and downloader calls.
type Handler struct {
	broker   Broker
	deployer Deployer
	confirm  Confirmer
	notifier notify.Notifier
}

// NewHandler wires a handler. notifier may be nil.
func NewHandler(broker Broker, deployer Deployer, confirm Confirmer, notifier notify.Notifier) *Handler {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Handler{broker: broker, deployer: deployer, confirm: confirm, notifier: notifier}
}

// Open parses raw and dispatches it. The result is nil for auth links.
func (h *Handler) Open(ctx context.Context, raw string) (*downloader.Result, error) {
	link, err := ParseLink(raw)
	if err != nil {
		return nil, err
	}
	if link.Action == constants.ProtocolActionAuth {
		return nil, h.HandleAuth(ctx, link.Code)
	}
	return h.HandleDeploy(ctx, link.ID, link.Token, link.Code)
}

// HandleDeploy installs id. A code is exchanged first when no token is
// stored. The link token wins over the stored one. The user must confirm.
func (h *Handler) HandleDeploy(ctx context.Context, id, token, code string) (*downloader.Result, error) {
	if id == "" {
		h.notifier.Notice(NoticeMissingID)
		return nil, ErrMissingID
	}

	if code != "" && h.broker.Token() == "" {
		// Failures are already reported to the user by the broker.
		_, _ = h.broker.ExchangeCode(ctx, code, false)
	}

	authToken := token
	if authToken == "" {
		authToken = h.broker.Token()
	}
	if authToken == "" {
		h.notifier.Notice(NoticeAuthRequired)
		return nil, ErrAuthRequired
	}

	if h.confirm != nil {
		ok, err := h.confirm.Confirm(ctx, "Install Component?",
			fmt.Sprintf("Do you want to download and install the component %q? This will add files to your vault.", id))
		if err != nil {
			return nil, fmt.Errorf("deploy: confirm: %w", err)
		}
		if !ok {
			return nil, ErrDeclined
		}
	}

	return h.deployer.Deploy(ctx, id, authToken)
}

// HandleAuth exchanges code for a token. An empty code is ignored.
func (h *Handler) HandleAuth(ctx context.Context, code string) error {
	if code == "" {
		return nil
	}
	_, err := h.broker.ExchangeCode(ctx, code, false)
	return err
}
