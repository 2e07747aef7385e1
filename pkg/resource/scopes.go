package resource

import "slices"

// resolveScopes fixes the scope requirement of every operation. The resource's
// own entry wins; otherwise the nearest ancestor that declares one is used.
// Writes look up the ancestor's patch scopes, then its put scopes, so that a
// child is writable by whoever may update its parent.
func (r *Resource) resolveScopes() {
	r.scopes = make(map[Operation][]string, len(Operations))
	for _, op := range Operations {
		if s, ok := r.cfg.Scopes[op]; ok && len(s) > 0 {
			r.scopes[op] = slices.Clone(s)
			continue
		}
		lookup := []Operation{op}
		if op.IsWrite() {
			lookup = []Operation{OpPatch, OpPut}
		}
		for _, a := range slices.Backward(r.ancestors) {
			if s := a.declaredScopes(lookup); len(s) > 0 {
				r.scopes[op] = slices.Clone(s)
				break
			}
		}
	}
}

func (r *Resource) declaredScopes(ops []Operation) []string {
	for _, op := range ops {
		if s := r.cfg.Scopes[op]; len(s) > 0 {
			return s
		}
	}
	return nil
}

// Scopes returns the scopes required for op. Empty means no scope is
// required.
func (r *Resource) Scopes(op Operation) []string { return r.scopes[op] }
