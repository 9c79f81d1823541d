// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software distributed under the License
// is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express
// or implied. See the License for the specific language governing permissions and limitations under the License.

package vector

import "strings"

// LabelExpr is a boolean combination of label clauses evaluated against one
// node's label set.
type LabelExpr interface {
	eval(node labelSet) bool
}

// labelSet is the membership surface a node exposes to the formula.
type labelSet interface {
	hasLabel(label []byte) bool
	hasLabelPrefix(prefix []byte) bool
}

// Literal matches nodes carrying the exact label.
type Literal string

func (l Literal) eval(node labelSet) bool {
	return node.hasLabel([]byte(l))
}

// PrefixAny matches nodes carrying any label that starts with the prefix.
type PrefixAny string

func (p PrefixAny) eval(node labelSet) bool {
	return node.hasLabelPrefix([]byte(p))
}

// Not negates its operand.
type Not struct {
	Expr LabelExpr
}

func (n Not) eval(node labelSet) bool {
	return !n.Expr.eval(node)
}

// And is a conjunction; the empty conjunction is true.
type And []LabelExpr

func (a And) eval(node labelSet) bool {
	for _, e := range a {
		if !e.eval(node) {
			return false
		}
	}
	return true
}

// Or is a disjunction; the empty disjunction is false.
type Or []LabelExpr

func (o Or) eval(node labelSet) bool {
	for _, e := range o {
		if e.eval(node) {
			return true
		}
	}
	return false
}

// Formula is the full per-request node filter: a label expression plus an
// optional key-prefix disjunction.
type Formula struct {
	Labels LabelExpr
	// KeyPrefixes keeps only nodes whose key starts with any entry.
	KeyPrefixes []string
}

// IsEmpty reports whether the formula filters nothing.
func (f *Formula) IsEmpty() bool {
	return f == nil || (f.Labels == nil && len(f.KeyPrefixes) == 0)
}

func (f *Formula) matches(key []byte, node labelSet) bool {
	if f == nil {
		return true
	}
	if len(f.KeyPrefixes) > 0 {
		ok := false
		for _, p := range f.KeyPrefixes {
			if strings.HasPrefix(string(key), p) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Labels != nil && !f.Labels.eval(node) {
		return false
	}
	return true
}

const securityLabelPrefix = "/q/g/"

// SecurityFormula translates request access groups into a label expression:
// an empty group list sees only public records; otherwise public records
// plus records tagged with any given group.
func SecurityFormula(accessGroups []string) LabelExpr {
	public := Not{Expr: PrefixAny(securityLabelPrefix)}
	if len(accessGroups) == 0 {
		return public
	}
	or := Or{public}
	for _, g := range accessGroups {
		or = append(or, Literal(securityLabelPrefix+strings.TrimPrefix(g, "/")))
	}
	return or
}
