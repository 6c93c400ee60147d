package env

import (
	"strings"
)

// Merge layers KEY=VALUE lists over base, later entries winning. Values in
// the layers may reference ${VAR}; each is expanded against what was set
// before it, so PATH=/opt/bin:${PATH} extends the inherited PATH. Keys keep
// the position of their first appearance. Entries without '=' or with an
// empty key are dropped.
func Merge(base []string, layers ...[]string) []string {
	m := make(map[string]string)
	var order []string
	put := func(list []string, expand bool) {
		for _, kv := range list {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				continue
			}
			if expand {
				v = Expand(v, m)
			}
			if _, seen := m[k]; !seen {
				order = append(order, k)
			}
			m[k] = v
		}
	}
	put(base, false)
	for _, l := range layers {
		put(l, true)
	}

	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+m[k])
	}
	return out
}

// Expand replaces ${VAR} with its value from vars. Expansion is a single pass:
// references inside substituted values are left alone, and unknown names
// are kept verbatim.
func Expand(s string, vars map[string]string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := vars[name]; ok && name != "" {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}
