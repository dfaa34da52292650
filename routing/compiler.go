package routing

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/protojour/arx/route"
)

// StaticHandlers are the locally-implemented endpoints the compiler
// wires into every table regardless of the declarative input, per
// spec §4.5's "Static routes (unconditional)". The gateway owns their
// construction; the compiler only needs something implementing
// route.Handler to point the table at.
type StaticHandlers struct {
	Health route.Handler
	Static route.Handler
	Docs   route.Handler // nil disables the optional /docs app.
	Onto   route.Handler // nil disables the optional /onto app.
}

// authlyExtensionName maps an ExtensionRef name under group "authly.id"
// to an AuthDirective, per spec §4.5.
var authlyExtensionName = map[string]route.AuthDirective{
	"authn":               route.Mandatory,
	"authn-mandatory":     route.Mandatory,
	"authn-opportunistic": route.Opportunistic,
	"authn-disabled":      route.Disabled,
}

const authlyGroup = "authly.id"

// Compiler turns a set of declarative HTTPRoute resources into a
// Table, for a single named gateway. It holds no mutable state of its
// own beyond the handlers and logger it was built with, so it's safe
// to reuse across successive Compile calls as the declarative input
// changes.
type Compiler struct {
	GatewayName string
	Handlers    StaticHandlers
	Log         logrus.FieldLogger
}

// NewCompiler returns a Compiler for the named gateway. If log is nil,
// a standard logrus logger is used.
func NewCompiler(gatewayName string, handlers StaticHandlers, log logrus.FieldLogger) *Compiler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Compiler{GatewayName: gatewayName, Handlers: handlers, Log: log}
}

// Compile builds a fresh Table from routes. routes may be nil or
// empty; the static routes are still inserted.
func (c *Compiler) Compile(routes map[string]HTTPRoute) *Table {
	b := NewBuilder()

	c.insertStatic(b)

	// Route names are sorted before compilation so that conflict
	// resolution (earlier insert wins, spec §4.5) is deterministic
	// and idempotent across recompiles of the same input, rather than
	// depending on Go's randomized map iteration order.
	names := make([]string, 0, len(routes))
	for name := range routes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		r := routes[name]
		if !c.bindsToGateway(r) {
			continue
		}
		for i, rule := range r.Rules {
			c.compileRule(b, name, i, rule)
		}
	}

	return b.Build()
}

func (c *Compiler) bindsToGateway(r HTTPRoute) bool {
	if len(r.ParentRefs) == 0 {
		return false
	}
	for _, p := range r.ParentRefs {
		if p.Name == c.GatewayName {
			return true
		}
	}
	return false
}

func (c *Compiler) insertStatic(b *Builder) {
	insert := func(pattern string, e route.Entry) {
		if ok, err := b.Insert(pattern, e); err != nil {
			c.Log.WithError(err).WithField("pattern", pattern).Warn("routing: invalid static pattern")
		} else if !ok {
			c.Log.WithField("pattern", pattern).Warn("routing: static route conflict, first insert kept")
		}
	}

	if c.Handlers.Health != nil {
		insert("/health", route.NewLocalHandler(c.Handlers.Health))
	}

	for _, ext := range []string{"ico", "svg", "png"} {
		insert("/favicon."+ext, route.NewTemporaryRedirect("/static/favicon.png"))
	}

	if c.Handlers.Static != nil {
		insert("/static/{*path}", route.NewLocalHandler(c.Handlers.Static).WithReplacePrefix(""))
	}

	insert("/", route.NewTemporaryRedirect("/onto/"))

	c.insertOptionalApp(b, "/docs", c.Handlers.Docs)
	c.insertOptionalApp(b, "/onto", c.Handlers.Onto)
}

func (c *Compiler) insertOptionalApp(b *Builder, prefix string, h route.Handler) {
	if h == nil {
		return
	}
	insert := func(pattern string, e route.Entry) {
		if ok, err := b.Insert(pattern, e); err != nil {
			c.Log.WithError(err).WithField("pattern", pattern).Warn("routing: invalid static pattern")
		} else if !ok {
			c.Log.WithField("pattern", pattern).Warn("routing: static route conflict, first insert kept")
		}
	}
	insert(prefix, route.NewTemporaryRedirect(prefix+"/"))
	insert(prefix+"/", route.NewLocalHandler(h).WithReplacePrefix(""))
	insert(prefix+"/{*path}", route.NewLocalHandler(h).WithReplacePrefix(""))
}

func (c *Compiler) compileRule(b *Builder, routeName string, ruleIndex int, rule HTTPRouteRule) {
	logf := c.Log.WithField("route", routeName).WithField("rule", ruleIndex)

	backend, class, ok := c.resolveBackend(logf, rule)
	if !ok {
		return
	}

	replacePrefix, hasReplacePrefix, authSel := c.scanFilters(logf, rule.Filters)

	for _, m := range rule.Matches {
		c.compileMatch(b, logf, m, backend, class, replacePrefix, hasReplacePrefix, authSel)
	}
}

// resolvedBackend is the scheme+authority+class derived from the
// first usable backendRef, per spec §4.5's backend-URI-construction
// rule. Port 443 (or an explicit authly.id/mesh extension) implies
// MeshTLS and https; anything else is Plain and http.
type resolvedBackend struct {
	scheme    string
	authority string
}

func (c *Compiler) resolveBackend(log logrus.FieldLogger, rule HTTPRouteRule) (resolvedBackend, route.BackendClass, bool) {
	if len(rule.BackendRefs) == 0 {
		return resolvedBackend{}, route.Plain, false
	}
	if len(rule.BackendRefs) > 1 {
		log.Warn("routing: multiple backendRefs are unsupported, using the first")
	}
	ref := rule.BackendRefs[0]

	mesh := ref.Port == 443 || c.hasMeshExtension(rule.Filters)

	class := route.Plain
	scheme := "http"
	authority := fmt.Sprintf("%s:%d", ref.Name, ref.Port)
	if mesh {
		class = route.MeshTLS
		scheme = "https"
		if ref.Port == 443 {
			authority = ref.Name
		}
	}

	return resolvedBackend{scheme: scheme, authority: authority}, class, true
}

func (c *Compiler) hasMeshExtension(filters []HTTPRouteFilter) bool {
	for _, f := range filters {
		if f.Type == FilterExtensionRef && f.ExtensionRef != nil &&
			f.ExtensionRef.Group == authlyGroup && f.ExtensionRef.Name == "mesh" {
			return true
		}
	}
	return false
}

func (c *Compiler) scanFilters(log logrus.FieldLogger, filters []HTTPRouteFilter) (prefix string, has bool, authSel route.AuthSelector) {
	authDirective := route.Disabled
	haveAuthDirective := false

	for _, f := range filters {
		switch f.Type {
		case FilterURLRewrite:
			if f.URLRewrite == nil || f.URLRewrite.Path == nil {
				continue
			}
			p := f.URLRewrite.Path
			if p.Type != "" && p.Type != "ReplacePrefixMatch" {
				continue
			}
			prefix = p.ReplacePrefixMatch
			if prefix != "" && !strings.HasSuffix(prefix, "/") {
				prefix += "/"
			}
			has = true
		case FilterExtensionRef:
			if f.ExtensionRef == nil || f.ExtensionRef.Group != authlyGroup {
				continue
			}
			if f.ExtensionRef.Name == "mesh" {
				continue
			}
			d, ok := authlyExtensionName[f.ExtensionRef.Name]
			if !ok {
				log.WithField("extensionRef", f.ExtensionRef.Name).Warn("routing: unrecognized authly.id extensionRef, ignoring")
				continue
			}
			authDirective = d
			haveAuthDirective = true
		default:
			log.WithField("filterType", f.Type).Warn("routing: unrecognized filter type, ignoring")
		}
	}

	if haveAuthDirective {
		authSel = route.Always(authDirective)
	} else {
		authSel = route.Always(route.Mandatory)
	}
	return prefix, has, authSel
}

func (c *Compiler) compileMatch(
	b *Builder,
	log logrus.FieldLogger,
	m HTTPRouteMatch,
	backend resolvedBackend,
	class route.BackendClass,
	replacePrefix string,
	hasReplacePrefix bool,
	authSel route.AuthSelector,
) {
	if m.Path == nil || m.Path.Value == "" {
		log.Warn("routing: match without a path value, skipping")
		return
	}

	insert := func(pattern string, e route.Entry) {
		if ok, err := b.Insert(pattern, e); err != nil {
			log.WithError(err).WithField("pattern", pattern).Warn("routing: invalid pattern")
		} else if !ok {
			log.WithField("pattern", pattern).Info("routing: route conflict, earlier rule wins")
		}
	}

	proxyEntry := route.NewProxy(backend.scheme, backend.authority, class, authSel)
	if hasReplacePrefix {
		proxyEntry = proxyEntry.WithReplacePrefix(replacePrefix)
	}

	switch m.Path.Type {
	case PathMatchExact:
		insert(m.Path.Value, proxyEntry)

	case PathMatchPrefix, "":
		value := m.Path.Value
		var prefix string
		if strings.HasSuffix(value, "/") {
			unterminated := strings.TrimRight(value, "/")
			insert(unterminated, route.NewTemporaryRedirect(value))
			prefix = value
		} else {
			insert(value, route.NewTemporaryRedirect(value+"/"))
			prefix = value + "/"
		}
		insert(prefix, proxyEntry)
		insert(prefix+"{*path}", proxyEntry)

	case PathMatchRegularExpression:
		log.WithField("value", m.Path.Value).Warn("routing: regular-expression path matches are unsupported, skipping")

	default:
		log.WithField("type", m.Path.Type).Warn("routing: unrecognized path match type, skipping")
	}
}
