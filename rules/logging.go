//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// StdLogger flags the standard library logger outside main and tests.
// Everything logs through internal/logger module loggers.
func StdLogger(m dsl.Matcher) {
	m.Match(
		`log.Printf($*_)`,
		`log.Println($*_)`,
		`log.Print($*_)`,
		`log.Fatalf($*_)`,
		`log.Fatal($*_)`,
	).
		Where(m.File().Imports("log") && !m.File().Name.Matches(`_test\.go$`)).
		Report("use a logger.Logger from internal/logger instead of the standard log package")
}

// StringFormattedField flags fmt.Sprintf used to build a log message.
// Variable parts belong in typed fields.
//
//	log.Info(fmt.Sprintf("stored %s", path))
//
// Should be:
//
//	log.Info("Stored image", logger.String("path", path))
func StringFormattedField(m dsl.Matcher) {
	m.Match(
		`$l.Debug(fmt.Sprintf($*_), $*_)`,
		`$l.Info(fmt.Sprintf($*_), $*_)`,
		`$l.Warn(fmt.Sprintf($*_), $*_)`,
		`$l.Error(fmt.Sprintf($*_), $*_)`,
	).
		Where(m.File().PkgPath.Matches(`digitlab/`)).
		Report("log a constant message and pass variable data as logger fields")
}
