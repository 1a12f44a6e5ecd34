package poller

import (
	"net/url"
	"sort"
	"strings"
)

// Key identifies one observed resource: a resource name plus query parameters.
type Key struct {
	Resource string
	Params   map[string]string
}

// NewKey builds a key from alternating name/value pairs. Empty values are dropped.
func NewKey(resource string, kv ...string) Key {
	k := Key{Resource: resource}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			continue
		}
		if k.Params == nil {
			k.Params = make(map[string]string, len(kv)/2)
		}
		k.Params[kv[i]] = kv[i+1]
	}
	return k
}

// String returns the canonical form resource?a=1&b=2 with params sorted.
func (k Key) String() string {
	if len(k.Params) == 0 {
		return k.Resource
	}
	names := make([]string, 0, len(k.Params))
	for name := range k.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(k.Resource)
	b.WriteByte('?')
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(name))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(k.Params[name]))
	}
	return b.String()
}

// Query renders the params as url.Values for the REST call.
func (k Key) Query() url.Values {
	q := make(url.Values, len(k.Params))
	for name, v := range k.Params {
		q.Set(name, v)
	}
	return q
}
