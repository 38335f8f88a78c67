// Package filetree implements the shrink/expand transform between a file's
// explicit Part children and the packed binary Parts blob, and resolves
// part numbers to storage-node endpoints via a group.
package filetree

import (
	"errors"
	"strconv"
	"time"

	"github.com/clusterdfs/dfscoord/endpoint"
	"github.com/clusterdfs/dfscoord/internal/dlog"
	"github.com/clusterdfs/dfscoord/partattr"

	store "github.com/clusterdfs/dfscoord/dcoord/store"
)

var log = dlog.For("filetree")

// ErrGroupNotFound is returned by a GroupResolver when no group answers the
// requested name.
var ErrGroupNotFound = errors.New("filetree: group not found")

// Group is a named, ordered set of storage-node endpoints a file's parts
// are striped across.
type Group struct {
	Name       string
	Cluster    string
	Members    []endpoint.Endpoint
	Replicated bool
}

// GroupResolver looks up the group backing a file, optionally preferring the
// member matching a requested cluster hint.
type GroupResolver interface {
	Lookup(name, cluster string) (*Group, error)
}

// Shrink folds tree's Part children into a packed Parts blob, in place.
// It is a no-op if the tree already carries a Parts blob, has fewer than
// two parts, has no group attribute, or has only a single Part child.
func Shrink(tree *store.Node) {
	if len(tree.Blob) > 0 {
		return
	}
	parts := tree.ChildrenOf("Part")
	if len(parts) < 2 {
		return
	}
	if !tree.HasProp("group") {
		return
	}

	maxNum := 0
	byNum := make(map[int]*store.Node)
	for _, pn := range parts {
		n := numOf(pn)
		byNum[n] = pn
		if n+1 > maxNum {
			maxNum = n + 1
		}
	}

	arr := make([]*partattr.Part, maxNum)
	for i := 0; i < maxNum; i++ {
		if pn, ok := byNum[i]; ok {
			arr[i] = nodeToPart(pn)
		} else {
			arr[i] = &partattr.Part{}
		}
	}
	tree.Blob = partattr.EncodeSequence(arr)
	for tree.RemoveChild("Part") != nil {
	}
}

// Expand replaces tree's Parts blob with explicit Part children. If
// expandNodes is true, it additionally resolves each part's storage node by
// consulting resolver for the group named by tree's group attribute,
// preferring the member set matching cluster when given.
func Expand(tree *store.Node, resolver GroupResolver, expandNodes bool, cluster string) error {
	if len(tree.Blob) == 0 {
		return nil
	}
	parts, err := partattr.DecodeSequence(tree.Blob)
	if err != nil {
		return err
	}
	tree.Blob = nil
	for _, p := range parts {
		tree.AddChild(partToNode(p))
	}

	if !expandNodes {
		return nil
	}
	groupName, _ := tree.Prop("group")
	if groupName == "" || resolver == nil {
		return nil
	}
	g, err := resolver.Lookup(groupName, cluster)
	if err != nil {
		log.WithFields(map[string]interface{}{"group": groupName, "cluster": cluster}).
			Warn("group/cluster count mismatch during expand; nodes left unresolved")
		return nil
	}
	for _, pn := range tree.ChildrenOf("Part") {
		if pn.HasProp("node") {
			continue
		}
		idx := numOf(pn)
		if idx >= 0 && idx < len(g.Members) {
			pn.SetProp("node", g.Members[idx].URL())
		}
	}
	if !tree.HasProp("replicated") && g.Replicated {
		tree.SetProp("replicated", "1")
	}
	return nil
}

func numOf(pn *store.Node) int {
	v, _ := pn.Prop("num")
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0
	}
	return n - 1
}

func nodeToPart(pn *store.Node) *partattr.Part {
	p := &partattr.Part{Attrs: make(map[string]string)}
	if v, ok := pn.Prop("size"); ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			p.Size = &n
		}
	}
	if v, ok := pn.Prop("modified"); ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			p.Modified = &t
		}
	}
	if v, ok := pn.Prop("fileCrc"); ok {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			n32 := int32(n)
			p.FileCrc = &n32
		}
	} else if v, ok := pn.Prop("crc"); ok {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			n32 := int32(n)
			p.Crc = &n32
		}
	}
	if v, ok := pn.Prop("value"); ok {
		p.Value = &v
	}
	for k, v := range pn.Attrs {
		if partattr.IsStructured(k) || k == "value" {
			continue
		}
		p.Attrs[k] = v
	}
	if len(pn.Children) > 0 {
		p.Subtrees = make(map[string]*partattr.Part)
		for _, c := range pn.Children {
			p.Subtrees[c.Tag] = nodeToPart(c)
		}
	}
	return p
}

func partToNode(p *partattr.Part) *store.Node {
	n := store.NewNode("Part")
	if p.Size != nil {
		n.SetProp("size", strconv.FormatUint(*p.Size, 10))
	}
	if p.Modified != nil {
		n.SetProp("modified", p.Modified.UTC().Format(time.RFC3339Nano))
	}
	if p.FileCrc != nil {
		n.SetProp("fileCrc", strconv.FormatInt(int64(*p.FileCrc), 10))
	} else if p.Crc != nil {
		n.SetProp("crc", strconv.FormatInt(int64(*p.Crc), 10))
	}
	if p.Value != nil {
		n.SetProp("value", *p.Value)
	}
	for k, v := range p.Attrs {
		n.SetProp(k, v)
	}
	for name, sub := range p.Subtrees {
		child := partToNode(sub)
		child.Tag = name
		n.AddChild(child)
	}
	return n
}
