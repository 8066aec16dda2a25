//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WrapWithW flags errors formatted with %v or %s in fmt.Errorf, which drops
// the chain that errors.Is and category lookups walk.
func WrapWithW(m dsl.Matcher) {
	m.Match(`fmt.Errorf($format, $*_, $err)`, `fmt.Errorf($format, $err)`).
		Where(m["err"].Type.Is("error") && m["format"].Text.Matches(`%[vs]"$`)).
		Report("use %w to wrap $err so callers can inspect it")
}

// CategorisedBuild flags error builders that never get a category. Without
// one the HTTP layer can only answer with a generic 500.
func CategorisedBuild(m dsl.Matcher) {
	m.Match(`errors.New($err).Component($c).Build()`, `errors.Newf($*_).Component($c).Build()`).
		Where(m.File().PkgPath.Matches(`digitlab/internal/`)).
		Report("set a Category on errors built for component $c")
}
