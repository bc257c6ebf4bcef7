package bundle

import (
	"fmt"

	"github.com/beevik/etree"
	"github.com/lgulliver/revvault/pkg/types"
	"github.com/rs/zerolog/log"
)

// Root elements a descriptor may carry
var descriptorRoots = []string{"APIProxy", "SharedFlowBundle"}

// DescriptorPath returns the in-archive path of an artifact's descriptor
func DescriptorPath(kind types.Kind, name string) string {
	if kind == types.KindSharedFlow {
		return "sharedflowbundle/" + name + ".xml"
	}
	return "apiproxy/" + name + ".xml"
}

// Provenance builds the Description stamped onto freshly created revisions
func Provenance(ref types.ArtifactRef, timestamp string) string {
	return fmt.Sprintf("SOURCE: org=%s name=%s rev=%s date=%s", ref.Org, ref.Name, ref.Revision, timestamp)
}

// Rewriter patches the Description of a bundle descriptor in memory
type Rewriter struct{}

// NewRewriter creates a rewriter
func NewRewriter() *Rewriter {
	return &Rewriter{}
}

// SetDescription returns a copy of buf in which the descriptor at entryPath
// carries description as its Description element. A buffer without that
// entry is returned untouched.
func (r *Rewriter) SetDescription(buf []byte, entryPath, description string) ([]byte, error) {
	entries, err := ReadEntries(buf)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, e := range entries {
		if !e.IsDir && e.Path == entryPath {
			idx = i
			break
		}
	}
	if idx < 0 {
		log.Warn().Str("entry", entryPath).Msg("descriptor not found in bundle, skipping rewrite")
		return buf, nil
	}

	patched, changed, err := patchDescription(entries[idx].Data, description)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", entryPath, err)
	}
	if !changed {
		log.Warn().Str("entry", entryPath).Msg("descriptor has no APIProxy or SharedFlowBundle root, skipping rewrite")
		return buf, nil
	}
	entries[idx].Data = patched

	out, err := WriteEntries(entries)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("entry", entryPath).
		Int("entries", len(entries)).
		Int("size_in", len(buf)).
		Int("size_out", len(out)).
		Msg("descriptor rewritten")
	return out, nil
}

// patchDescription sets the Description child of the descriptor root and
// re-indents the document. changed is false when no known root is present.
func patchDescription(data []byte, description string) ([]byte, bool, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}
	if doc.Root() == nil {
		return nil, false, fmt.Errorf("%w: no root element", ErrMalformedDescriptor)
	}

	var root *etree.Element
	for _, tag := range descriptorRoots {
		if el := doc.SelectElement(tag); el != nil {
			root = el
			break
		}
	}
	if root == nil {
		return nil, false, nil
	}

	desc := root.SelectElement("Description")
	if desc == nil {
		desc = root.CreateElement("Description")
	}
	desc.SetText(description)

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}
	return out, true, nil
}
