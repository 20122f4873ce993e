package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// resultLiteral: Succeed and Fail keep Success, Data and Error consistent.
func resultLiteral(m dsl.Matcher) {
	m.Match(`Result[$_]{$*_}`, `llm.Result[$_]{$*_}`).
		Where(!m.File().Name.Matches(`(types|_test)\.go$`)).
		Report(`build results with Succeed or Fail`)
}

// detachedContext: request-scoped code passes its caller's context down.
func detachedContext(m dsl.Matcher) {
	m.Match(`context.Background()`, `context.TODO()`).
		Where(m.File().PkgPath.Matches(`/internal/`) && !m.File().Name.Matches(`_test\.go$`)).
		Report(`take a ctx parameter instead of starting a new context`)
}

// printing: services log through their injected zerolog.Logger.
func printing(m dsl.Matcher) {
	m.Import(`github.com/rs/zerolog/log`)
	m.Match(`fmt.Print($*_)`, `fmt.Println($*_)`, `fmt.Printf($*_)`, `log.Print($*_)`, `log.Printf($*_)`, `log.Info()`, `log.Error()`).
		Where(m.File().PkgPath.Matches(`/internal/`)).
		Report(`use the component logger passed to the constructor`)
}

// mergeableGuards: consecutive guards with the same result read better as one.
func mergeableGuards(m dsl.Matcher) {
	m.Match(`if $c1 { return $*ret }; if $c2 { return $*ret }`).
		Report(`two consecutive guards return the same values; merge them with ||`).
		Suggest(`if $c1 || $c2 { return $ret }`)
}
