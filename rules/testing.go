//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// TestingContext flags context.Background() in tests; t.Context() is
// cancelled when the test ends, which stops fake brokers and servers.
func TestingContext(m dsl.Matcher) {
	m.Match(
		`$ctx := context.Background()`,
		`$ctx = context.Background()`,
	).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("in tests, use t.Context() instead of context.Background()")

	// Shutdown runs after the test context may already be done.
	m.Match(`$fn(context.Background(), $*args)`).
		Where(m.File().Name.Matches(`_test\.go$`) && !m["fn"].Text.Matches(`Shutdown$`)).
		Report("in tests, use t.Context() instead of context.Background()")
}

// WaitGroupGo flags the Add/Done goroutine pattern that wg.Go replaces.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) instead of Add(1) and defer Done()").
		Suggest("$wg.Go(func() { $body })")
}

// SleepInTests flags fixed sleeps used as synchronisation in tests.
func SleepInTests(m dsl.Matcher) {
	m.Match(`time.Sleep($d)`).
		Where(m.File().Name.Matches(`_test\.go$`) && m["d"].Text.Matches(`Second`)).
		Report("wait on a channel or condition instead of sleeping for $d")
}
