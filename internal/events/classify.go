package events

import (
	"errors"
	"fmt"

	"github.com/lgulliver/revvault/internal/bundle"
	"github.com/lgulliver/revvault/pkg/types"
	"github.com/lgulliver/revvault/pkg/utils"
)

// ErrMalformedResource means a recognized event does not carry the identity
// fields its transition needs. It matches bundle.ErrMalformedDescriptor.
var ErrMalformedResource = errors.New("malformed event resource")

type malformedError struct {
	method string
	detail string
}

func (e *malformedError) Error() string {
	return fmt.Sprintf("%v: %s: %s", ErrMalformedResource, e.method, e.detail)
}

func (e *malformedError) Is(target error) bool {
	return target == ErrMalformedResource || target == bundle.ErrMalformedDescriptor
}

func malformed(method, format string, args ...interface{}) error {
	return &malformedError{method: method, detail: fmt.Sprintf(format, args...)}
}

// Transition names one lifecycle transition
type Transition string

const (
	TransitionRevisionCreated Transition = "revision_created"
	TransitionRevisionUpdated Transition = "revision_updated"
	TransitionRevisionDeleted Transition = "revision_deleted"
	TransitionArtifactDeleted Transition = "artifact_deleted"
	TransitionIgnored         Transition = "ignored"
)

// Event is the closed set of lifecycle events. Only the types in this file
// implement it; consumers switch over them exhaustively.
type Event interface {
	Transition() Transition
	sealed()
}

// RevisionCreated is a new revision whose bundle must be stamped and stored
type RevisionCreated struct {
	Ref       types.ArtifactRef
	Actor     string
	Timestamp string
}

// RevisionUpdated is an existing revision whose bundle changed in place
type RevisionUpdated struct {
	Ref       types.ArtifactRef
	Actor     string
	Timestamp string
}

// RevisionDeleted is one revision removed upstream
type RevisionDeleted struct {
	Ref       types.ArtifactRef
	Actor     string
	Timestamp string
}

// ArtifactDeleted is a whole proxy or shared flow removed upstream
type ArtifactDeleted struct {
	Kind types.Kind
	Name string
}

// Ignored is any method outside the recognized set
type Ignored struct {
	Method string
}

func (RevisionCreated) Transition() Transition { return TransitionRevisionCreated }
func (RevisionUpdated) Transition() Transition { return TransitionRevisionUpdated }
func (RevisionDeleted) Transition() Transition { return TransitionRevisionDeleted }
func (ArtifactDeleted) Transition() Transition { return TransitionArtifactDeleted }
func (Ignored) Transition() Transition         { return TransitionIgnored }

func (RevisionCreated) sealed() {}
func (RevisionUpdated) sealed() {}
func (RevisionDeleted) sealed() {}
func (ArtifactDeleted) sealed() {}
func (Ignored) sealed()         {}

const (
	proxyService      = "google.cloud.apigee.v1.ApiProxyService."
	sharedFlowService = "google.cloud.apigee.v1.SharedFlowService."
)

type route struct {
	transition Transition
	kind       types.Kind
}

// methods is the closed set of recognized audit-log method names
var methods = map[string]route{
	proxyService + "CreateApiProxyRevision":        {TransitionRevisionCreated, types.KindProxy},
	sharedFlowService + "CreateSharedFlowRevision": {TransitionRevisionCreated, types.KindSharedFlow},
	proxyService + "UpdateApiProxyRevision":        {TransitionRevisionUpdated, types.KindProxy},
	sharedFlowService + "UpdateSharedFlowRevision": {TransitionRevisionUpdated, types.KindSharedFlow},
	proxyService + "DeleteApiProxyRevision":        {TransitionRevisionDeleted, types.KindProxy},
	sharedFlowService + "DeleteSharedFlowRevision": {TransitionRevisionDeleted, types.KindSharedFlow},
	proxyService + "DeleteApiProxy":                {TransitionArtifactDeleted, types.KindProxy},
	sharedFlowService + "DeleteSharedFlow":         {TransitionArtifactDeleted, types.KindSharedFlow},
}

// Classify maps an envelope onto its lifecycle event. Unknown methods yield
// Ignored; recognized methods with too little identity fail with
// ErrMalformedResource.
//
// Creation reads name and revision from the response because the resource
// name of a create call does not address the new revision yet. Every other
// transition reads the resource path
// organizations/{org}/{kind}/{name}/revisions/{revision}.
func Classify(env *Envelope) (Event, error) {
	if env == nil || env.ProtoPayload == nil {
		return nil, ErrInvalidPayload
	}
	p := env.ProtoPayload
	method := p.MethodName

	r, ok := methods[method]
	if !ok {
		return Ignored{Method: method}, nil
	}

	parts := utils.SplitResource(p.ResourceName)
	actor := env.Actor()
	ts := env.ReceiveTimestamp

	switch r.transition {
	case TransitionRevisionCreated:
		if len(parts) < 2 || parts[1] == "" {
			return nil, malformed(method, "resource %q has no organization", p.ResourceName)
		}
		resp, err := p.RevisionResponse()
		if err != nil {
			return nil, malformed(method, "%v", err)
		}
		if resp.Name == "" || resp.Revision == "" {
			return nil, malformed(method, "response lacks name or revision")
		}
		return RevisionCreated{
			Ref: types.ArtifactRef{
				Org:      parts[1],
				Kind:     r.kind,
				Name:     resp.Name,
				Revision: string(resp.Revision),
			},
			Actor:     actor,
			Timestamp: ts,
		}, nil

	case TransitionRevisionUpdated, TransitionRevisionDeleted:
		ref, err := revisionRef(method, parts)
		if err != nil {
			return nil, err
		}
		if r.transition == TransitionRevisionUpdated {
			return RevisionUpdated{Ref: ref, Actor: actor, Timestamp: ts}, nil
		}
		return RevisionDeleted{Ref: ref, Actor: actor, Timestamp: ts}, nil

	case TransitionArtifactDeleted:
		if len(parts) < 4 || parts[3] == "" {
			return nil, malformed(method, "resource %q has fewer than 4 segments", p.ResourceName)
		}
		kind, err := types.ParseKind(parts[2])
		if err != nil {
			return nil, malformed(method, "%v", err)
		}
		return ArtifactDeleted{Kind: kind, Name: parts[3]}, nil
	}

	return nil, fmt.Errorf("unhandled transition %q", r.transition)
}

// revisionRef reads org, kind, name and revision from path positions 1, 2, 3
// and 5
func revisionRef(method string, parts []string) (types.ArtifactRef, error) {
	if len(parts) < 6 {
		return types.ArtifactRef{}, malformed(method, "resource has %d segments, want 6", len(parts))
	}
	kind, err := types.ParseKind(parts[2])
	if err != nil {
		return types.ArtifactRef{}, malformed(method, "%v", err)
	}
	if parts[3] == "" || parts[5] == "" {
		return types.ArtifactRef{}, malformed(method, "resource lacks name or revision")
	}
	return types.ArtifactRef{
		Org:      parts[1],
		Kind:     kind,
		Name:     parts[3],
		Revision: parts[5],
	}, nil
}
