package events

import (
	"context"
	"fmt"

	"github.com/lgulliver/revvault/internal/bundle"
	"github.com/lgulliver/revvault/pkg/types"
	"github.com/lgulliver/revvault/pkg/utils"
	"github.com/rs/zerolog/log"
)

// Fetcher downloads a zipped revision bundle from the management API
type Fetcher interface {
	FetchRevisionBundle(ctx context.Context, org string, kind types.Kind, name, revision string) ([]byte, error)
}

// Rewriter patches the descriptor of a bundle
type Rewriter interface {
	SetDescription(buf []byte, entryPath, description string) ([]byte, error)
}

// Layout writes revision trees to the object store
type Layout interface {
	UnpackAndStore(ctx context.Context, kind types.Kind, name, revision string, buf []byte) error
	WriteMetadata(ctx context.Context, kind types.Kind, name, revision string, record *types.RevisionMetadata, deleted bool) error
	Archive(ctx context.Context, kind types.Kind, name string) error
}

// Result describes what happened to one delivery
type Result struct {
	Method     string
	Resource   string
	Transition Transition
	Outcome    string
	Ref        types.ArtifactRef
	Actor      string
}

// Dispatcher turns audit-log envelopes into object store side effects for a
// single organization
type Dispatcher struct {
	org      string
	fetcher  Fetcher
	rewriter Rewriter
	layout   Layout
}

// NewDispatcher creates a dispatcher that only acts on resources of org
func NewDispatcher(org string, fetcher Fetcher, rewriter Rewriter, layout Layout) *Dispatcher {
	return &Dispatcher{
		org:      org,
		fetcher:  fetcher,
		rewriter: rewriter,
		layout:   layout,
	}
}

// Org returns the organization the dispatcher is scoped to
func (d *Dispatcher) Org() string {
	return d.org
}

// Handle processes one envelope. Sub-operation errors are returned as-is and
// end handling of the event; nothing is retried.
func (d *Dispatcher) Handle(ctx context.Context, env *Envelope) (Result, error) {
	if env == nil || env.ProtoPayload == nil {
		return Result{Outcome: types.OutcomeFailed}, ErrInvalidPayload
	}

	p := env.ProtoPayload
	res := Result{
		Method:   p.MethodName,
		Resource: p.ResourceName,
		Actor:    env.Actor(),
	}

	log.Info().
		Str("method", p.MethodName).
		Str("resource", p.ResourceName).
		Str("actor", res.Actor).
		Msg("event received")

	if !utils.HasOrgScope(p.ResourceName, d.org) {
		log.Info().
			Str("resource", p.ResourceName).
			Str("expected_org", d.org).
			Msg("event outside configured organization, skipping")
		res.Outcome = types.OutcomeOutOfScope
		return res, nil
	}

	ev, err := Classify(env)
	if err != nil {
		res.Outcome = types.OutcomeFailed
		return res, err
	}
	res.Transition = ev.Transition()

	switch e := ev.(type) {
	case RevisionCreated:
		res.Ref = e.Ref
		err = d.revisionCreated(ctx, e)
	case RevisionUpdated:
		res.Ref = e.Ref
		err = d.revisionUpdated(ctx, e)
	case RevisionDeleted:
		res.Ref = e.Ref
		err = d.revisionDeleted(ctx, e)
	case ArtifactDeleted:
		res.Ref = types.ArtifactRef{Org: d.org, Kind: e.Kind, Name: e.Name}
		err = d.artifactDeleted(ctx, e)
	case Ignored:
		log.Debug().Str("method", e.Method).Msg("ignored event")
		res.Outcome = types.OutcomeIgnored
		return res, nil
	default:
		err = fmt.Errorf("unhandled event type %T", ev)
	}

	if err != nil {
		res.Outcome = types.OutcomeFailed
		return res, err
	}
	res.Outcome = types.OutcomeOK
	return res, nil
}

func (d *Dispatcher) revisionCreated(ctx context.Context, e RevisionCreated) error {
	ref := e.Ref
	log.Info().Str("kind", ref.Kind.String()).Str("name", ref.Name).Str("revision", ref.Revision).Msg("revision created")

	raw, err := d.fetcher.FetchRevisionBundle(ctx, ref.Org, ref.Kind, ref.Name, ref.Revision)
	if err != nil {
		return err
	}

	stamped, err := d.rewriter.SetDescription(raw, bundle.DescriptorPath(ref.Kind, ref.Name), bundle.Provenance(ref, e.Timestamp))
	if err != nil {
		return err
	}

	if err := d.layout.UnpackAndStore(ctx, ref.Kind, ref.Name, ref.Revision, stamped); err != nil {
		return err
	}
	return d.layout.WriteMetadata(ctx, ref.Kind, ref.Name, ref.Revision, &types.RevisionMetadata{
		Kind:              ref.Kind,
		Name:              ref.Name,
		Revision:          ref.Revision,
		AuthenticatedUser: e.Actor,
		LastUpdatedAt:     e.Timestamp,
	}, false)
}

func (d *Dispatcher) revisionUpdated(ctx context.Context, e RevisionUpdated) error {
	ref := e.Ref
	log.Info().Str("kind", ref.Kind.String()).Str("name", ref.Name).Str("revision", ref.Revision).Msg("revision updated")

	raw, err := d.fetcher.FetchRevisionBundle(ctx, ref.Org, ref.Kind, ref.Name, ref.Revision)
	if err != nil {
		return err
	}
	if err := d.layout.UnpackAndStore(ctx, ref.Kind, ref.Name, ref.Revision, raw); err != nil {
		return err
	}
	return d.layout.WriteMetadata(ctx, ref.Kind, ref.Name, ref.Revision, &types.RevisionMetadata{
		Kind:              ref.Kind,
		Name:              ref.Name,
		Revision:          ref.Revision,
		AuthenticatedUser: e.Actor,
		LastUpdatedAt:     e.Timestamp,
	}, false)
}

func (d *Dispatcher) revisionDeleted(ctx context.Context, e RevisionDeleted) error {
	ref := e.Ref
	log.Info().Str("kind", ref.Kind.String()).Str("name", ref.Name).Str("revision", ref.Revision).Msg("revision deleted")

	return d.layout.WriteMetadata(ctx, ref.Kind, ref.Name, ref.Revision, &types.RevisionMetadata{
		Kind:              ref.Kind,
		Name:              ref.Name,
		Revision:          ref.Revision,
		AuthenticatedUser: e.Actor,
		State:             types.StateDeleted,
		DeletedAt:         e.Timestamp,
	}, true)
}

func (d *Dispatcher) artifactDeleted(ctx context.Context, e ArtifactDeleted) error {
	log.Info().Str("kind", e.Kind.String()).Str("name", e.Name).Msg("artifact deleted")
	return d.layout.Archive(ctx, e.Kind, e.Name)
}
