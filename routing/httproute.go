package routing

// The types below mirror the subset of the Kubernetes Gateway API's
// HTTPRoute resource this gateway actually consumes. Unknown fields
// on the wire are ignored by the decoder that produces these; see
// routing.Compiler for which combinations are supported and which are
// warned-and-skipped.

// HTTPRoute is one declarative route resource, keyed by name in the
// map the compiler consumes.
type HTTPRoute struct {
	Name       string         `json:"name" yaml:"name"`
	ParentRefs []ParentRef    `json:"parentRefs,omitempty" yaml:"parentRefs,omitempty"`
	Rules      []HTTPRouteRule `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// ParentRef names the gateway a route binds to. A route whose
// ParentRefs does not include the gateway this compiler is building
// for is skipped entirely.
type ParentRef struct {
	Name string `json:"name" yaml:"name"`
}

// HTTPRouteRule is one routing rule: a set of matches, filters to
// apply, and candidate backends.
type HTTPRouteRule struct {
	Matches     []HTTPRouteMatch  `json:"matches,omitempty" yaml:"matches,omitempty"`
	Filters     []HTTPRouteFilter `json:"filters,omitempty" yaml:"filters,omitempty"`
	BackendRefs []HTTPBackendRef  `json:"backendRefs,omitempty" yaml:"backendRefs,omitempty"`
}

// PathMatchType discriminates HTTPPathMatch.Type.
type PathMatchType string

const (
	PathMatchExact             PathMatchType = "Exact"
	PathMatchPrefix            PathMatchType = "PathPrefix"
	PathMatchRegularExpression PathMatchType = "RegularExpression"
)

// HTTPPathMatch is the path-matching predicate of a rule. Method and
// query-param matches exist on the wire format but are not modeled
// here, so they are dropped when decoded; the compiler never sees
// them and logs no warning about them.
type HTTPPathMatch struct {
	Type  PathMatchType `json:"type,omitempty" yaml:"type,omitempty"`
	Value string        `json:"value" yaml:"value"`
}

// HTTPRouteMatch is one match clause; only Path is consulted.
type HTTPRouteMatch struct {
	Path *HTTPPathMatch `json:"path,omitempty" yaml:"path,omitempty"`
}

// FilterType discriminates HTTPRouteFilter's payload.
type FilterType string

const (
	FilterURLRewrite   FilterType = "URLRewrite"
	FilterExtensionRef FilterType = "ExtensionRef"
)

// HTTPRouteFilter is one filter entry; exactly one of URLRewrite or
// ExtensionRef is populated, selected by Type.
type HTTPRouteFilter struct {
	Type         FilterType              `json:"type" yaml:"type"`
	URLRewrite   *HTTPURLRewriteFilter   `json:"urlRewrite,omitempty" yaml:"urlRewrite,omitempty"`
	ExtensionRef *LocalObjectReference   `json:"extensionRef,omitempty" yaml:"extensionRef,omitempty"`
}

// HTTPURLRewriteFilter carries the path-rewrite instruction.
type HTTPURLRewriteFilter struct {
	Path *HTTPPathModifier `json:"path,omitempty" yaml:"path,omitempty"`
}

// HTTPPathModifier names the replacement-prefix value when Type is
// ReplacePrefixMatch. No other modifier type is consulted.
type HTTPPathModifier struct {
	Type               string `json:"type,omitempty" yaml:"type,omitempty"`
	ReplacePrefixMatch string `json:"replacePrefixMatch,omitempty" yaml:"replacePrefixMatch,omitempty"`
}

// LocalObjectReference names an extension object by group/kind/name;
// the compiler only recognizes Group == "authly.id".
type LocalObjectReference struct {
	Group string `json:"group,omitempty" yaml:"group,omitempty"`
	Kind  string `json:"kind,omitempty" yaml:"kind,omitempty"`
	Name  string `json:"name" yaml:"name"`
}

// HTTPBackendRef names a candidate backend service and port. When a
// rule has more than one, the compiler uses the first and logs a
// warning (§4.5, §9 "multi-backend-ref load balancing").
type HTTPBackendRef struct {
	Name string `json:"name" yaml:"name"`
	Port int    `json:"port" yaml:"port"`
}
