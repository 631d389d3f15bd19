// Package resolver turns media references into playable metadata.
//
// Resolution walks an ordered list of clients: the one selected by the
// platform hint, then the default platform client. A login gated result is
// retried exactly once through the bypass client; a hard playability block is
// returned as is.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mediafetch/internal/entity"
	"mediafetch/internal/errs"
	"mediafetch/internal/observability"
)

// Client is one platform identity able to describe items and collections.
// Returned media must carry an Accessor for the streaming stage.
type Client interface {
	Name() string
	Info(ctx context.Context, id string) (entity.ResolvedMedia, error)
	Playlist(ctx context.Context, id string) (entity.CollectionPage, error)
	Continue(ctx context.Context, token string) (entity.CollectionPage, error)
}

const (
	outcomeOK            = "ok"
	outcomeError         = "error"
	outcomeLoginRequired = "login_required"
	outcomeUnplayable    = "unplayable"
)

// maxContinuations bounds paging in case a platform keeps returning tokens.
const maxContinuations = 500

// Resolver implements reference resolution and collection enumeration.
type Resolver struct {
	log     *slog.Logger
	metrics *observability.Metrics

	clients  map[entity.Platform]Client
	fallback entity.Platform
	bypass   Client
}

// Options wires the clients. Primary is required.
type Options struct {
	Primary   Client
	Alternate Client
	Bypass    Client
}

// New creates a resolver. The primary platform is the default fallback.
func New(log *slog.Logger, metrics *observability.Metrics, opts Options) *Resolver {
	clients := map[entity.Platform]Client{entity.PlatformPrimary: opts.Primary}
	if opts.Alternate != nil {
		clients[entity.PlatformAlternate] = opts.Alternate
	}

	return &Resolver{
		log:      log.With(slog.String("package", "resolver")),
		metrics:  metrics,
		clients:  clients,
		fallback: entity.PlatformPrimary,
		bypass:   opts.Bypass,
	}
}

// strategies returns the ordered client list for a hint.
func (r *Resolver) strategies(hint entity.Platform) []Client {
	var out []Client

	if c, ok := r.clients[hint]; ok && c != nil {
		out = append(out, c)
	}

	if hint != r.fallback {
		if c := r.clients[r.fallback]; c != nil {
			out = append(out, c)
		}
	}

	return out
}

// Resolve returns playable metadata for ref.
func (r *Resolver) Resolve(ctx context.Context, ref entity.MediaReference) (entity.ResolvedMedia, error) {
	log := r.log.With(slog.Any("ref", ref))

	strategies := r.strategies(ref.Platform)
	if len(strategies) == 0 {
		return entity.ResolvedMedia{}, fmt.Errorf("%w: %s", errs.ErrNoClient, ref.Platform)
	}

	var (
		media    entity.ResolvedMedia
		firstErr error
		resolved bool
	)

	for _, client := range strategies {
		m, err := client.Info(ctx, ref.ID)
		if err == nil {
			media, resolved = m, true
			r.metrics.RecordResolverAttempt(client.Name(), outcomeOK)

			break
		}

		r.metrics.RecordResolverAttempt(client.Name(), outcomeError)
		log.DebugContext(ctx, "client resolve failed", slog.String("client", client.Name()), slog.Any("error", err))

		if firstErr == nil {
			firstErr = err
		}

		if ctx.Err() != nil {
			break
		}
	}

	if !resolved {
		return entity.ResolvedMedia{}, fmt.Errorf("resolve %s: %w", ref.ID, firstErr)
	}

	media, err := r.checkPlayability(ctx, ref, media)
	if err != nil {
		return entity.ResolvedMedia{}, err
	}

	media.Title = CleanupName(media.Title)
	media.Author = CleanupName(media.Author)

	log.DebugContext(ctx, "resolved", slog.Any("media", media))

	return media, nil
}

func (r *Resolver) checkPlayability(ctx context.Context, ref entity.MediaReference, media entity.ResolvedMedia) (entity.ResolvedMedia, error) {
	switch media.Playability {
	case entity.PlayabilityOK, "":
		return media, nil
	case entity.PlayabilityUnplayable:
		r.metrics.RecordResolverAttempt(media.Client, outcomeUnplayable)

		return entity.ResolvedMedia{}, &errs.UnplayableError{Status: media.Status, Reason: media.Reason}
	case entity.PlayabilityLoginRequired:
		r.metrics.RecordResolverAttempt(media.Client, outcomeLoginRequired)
	}

	if r.bypass == nil {
		return entity.ResolvedMedia{}, restricted(media)
	}

	r.log.InfoContext(ctx, "login required, retrying with bypass client", slog.String("id", ref.ID))

	bypassed, err := r.bypass.Info(ctx, ref.ID)
	if errors.Is(err, errs.ErrLoginRequired) {
		r.metrics.RecordResolverAttempt(r.bypass.Name(), outcomeLoginRequired)

		return entity.ResolvedMedia{}, restricted(media)
	}

	if err != nil {
		r.metrics.RecordResolverAttempt(r.bypass.Name(), outcomeError)

		return entity.ResolvedMedia{}, fmt.Errorf("bypass resolve %s: %w", ref.ID, err)
	}

	switch bypassed.Playability {
	case entity.PlayabilityOK, "":
		r.metrics.RecordResolverAttempt(r.bypass.Name(), outcomeOK)

		return bypassed, nil
	case entity.PlayabilityUnplayable:
		r.metrics.RecordResolverAttempt(r.bypass.Name(), outcomeUnplayable)

		return entity.ResolvedMedia{}, &errs.UnplayableError{Status: bypassed.Status, Reason: bypassed.Reason}
	default:
		r.metrics.RecordResolverAttempt(r.bypass.Name(), outcomeLoginRequired)

		return entity.ResolvedMedia{}, restricted(bypassed)
	}
}

func restricted(media entity.ResolvedMedia) error {
	status := media.Status
	if status == "" {
		status = "LOGIN_REQUIRED"
	}

	return fmt.Errorf("%w: [%s] %s", errs.ErrRestrictedContent, status, media.Reason)
}

// Enumerate lists every item of a collection, following continuation tokens.
func (r *Resolver) Enumerate(ctx context.Context, ref entity.MediaReference) (entity.Collection, error) {
	strategies := r.strategies(ref.Platform)
	if len(strategies) == 0 {
		return entity.Collection{}, fmt.Errorf("%w: %w: %s", errs.ErrEnumeration, errs.ErrNoClient, ref.Platform)
	}

	var (
		client   Client
		first    entity.CollectionPage
		firstErr error
	)

	for _, c := range strategies {
		page, err := c.Playlist(ctx, ref.ID)
		if err == nil {
			client, first = c, page

			break
		}

		if firstErr == nil {
			firstErr = err
		}
	}

	if client == nil {
		return entity.Collection{}, fmt.Errorf("%w: %w", errs.ErrEnumeration, firstErr)
	}

	items := first.Items
	token := first.Continuation
	seen := make(map[string]struct{})

	for pages := 0; token != ""; pages++ {
		if _, dup := seen[token]; dup || pages >= maxContinuations {
			r.log.WarnContext(ctx, "stopping continuation loop", slog.String("playlist", ref.ID), slog.Int("pages", pages))

			break
		}

		seen[token] = struct{}{}

		next, err := client.Continue(ctx, token)
		if err != nil {
			return entity.Collection{}, fmt.Errorf("%w: continuation: %w", errs.ErrEnumeration, err)
		}

		items = append(items, next.Items...)
		token = next.Continuation
	}

	if len(items) == 0 {
		return entity.Collection{}, errs.ErrPlaylistEmpty
	}

	for i := range items {
		if items[i].Ref.Platform == "" {
			items[i].Ref.Platform = ref.Platform
		}

		items[i].Title = CleanupName(items[i].Title)
		items[i].Author = CleanupName(items[i].Author)
	}

	title := first.Title
	if title == "" {
		title = first.ID
	}

	if title == "" {
		title = ref.ID
	}

	return entity.Collection{
		ID:      ref.ID,
		Title:   title,
		IsAlbum: !first.HasHeader,
		Items:   items,
	}, nil
}
