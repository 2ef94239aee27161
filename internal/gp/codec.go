package gp

import (
	"encoding/json"
	"fmt"
)

type encodedNode struct {
	Name     string           `json:"name"`
	Out      string           `json:"out"`
	Params   map[string]any   `json:"params,omitempty"`
	Children [][]*encodedNode `json:"children,omitempty"`
}

func EncodeTree(t Tree) ([]byte, error) {
	if t.Root == nil {
		return nil, fmt.Errorf("%w: empty tree", ErrInvalidTree)
	}
	return json.Marshal(encodeNode(t.Root))
}

func encodeNode(n *Node) *encodedNode {
	out := &encodedNode{Name: n.Prim.Name, Out: n.Prim.Out, Params: n.Params}
	if len(n.Children) > 0 {
		out.Children = make([][]*encodedNode, len(n.Children))
		for i, slot := range n.Children {
			out.Children[i] = make([]*encodedNode, len(slot))
			for j, child := range slot {
				out.Children[i][j] = encodeNode(child)
			}
		}
	}
	return out
}

// DecodeTree rebuilds a tree, resolving primitives through the catalogue.
// JSON numbers decode as float64, so parameter values are mapped back onto
// the matching domain value.
func DecodeTree(data []byte, catalogue *Catalogue) (Tree, error) {
	var root encodedNode
	if err := json.Unmarshal(data, &root); err != nil {
		return Tree{}, err
	}
	node, err := decodeNode(&root, catalogue)
	if err != nil {
		return Tree{}, err
	}
	tree := Tree{Root: node}
	if err := validateNode(node); err != nil {
		return Tree{}, err
	}
	return tree, nil
}

func decodeNode(in *encodedNode, catalogue *Catalogue) (*Node, error) {
	prim, err := catalogue.Lookup(in.Name, in.Out)
	if err != nil {
		return nil, err
	}
	node := &Node{Prim: prim}
	if len(in.Params) > 0 {
		node.Params = make(Params, len(in.Params))
		for name, raw := range in.Params {
			value, err := matchDomainValue(prim, name, raw)
			if err != nil {
				return nil, err
			}
			node.Params[name] = value
		}
	}
	if len(in.Children) > 0 || len(prim.Slots) > 0 {
		node.Children = make([][]*Node, len(in.Children))
		for i, slot := range in.Children {
			node.Children[i] = make([]*Node, 0, len(slot))
			for _, child := range slot {
				decoded, err := decodeNode(child, catalogue)
				if err != nil {
					return nil, err
				}
				node.Children[i] = append(node.Children[i], decoded)
			}
		}
	}
	return node, nil
}

func matchDomainValue(prim *Primitive, name string, raw any) (any, error) {
	values, ok := prim.Domain[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s has unknown hyperparameter %q", ErrInvalidTree, prim.Name, name)
	}
	want, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		got, err := json.Marshal(v)
		if err != nil {
			continue
		}
		if string(got) == string(want) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s=%s is out of domain", ErrInvalidTree, prim.Name, name, want)
}
