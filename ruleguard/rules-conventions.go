package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// defaultClient: adapters get their *http.Client injected so that timeouts and
// test servers apply.
func defaultClient(m dsl.Matcher) {
	m.Match(`http.DefaultClient`, `http.Get($*_)`, `http.Post($*_)`, `http.PostForm($*_)`, `http.Head($*_)`).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report(`use the injected *http.Client instead of the net/http default client`)
}

// completionUnmarshal: model output is never valid JSON by contract; decode it
// with llm.DecodeJSON so fenced and prose-wrapped replies still parse.
func completionUnmarshal(m dsl.Matcher) {
	m.Match(`json.Unmarshal([]byte($x.Content), $_)`, `json.Unmarshal([]byte($x.Data.Content), $_)`).
		Where(!m.File().Name.Matches(`(extract|_test)\.go$`)).
		Report(`decode completion content with llm.DecodeJSON`)
}

// sleep: production code waits on a context, a timer or the rate limiter.
func sleep(m dsl.Matcher) {
	m.Match(`time.Sleep($_)`).
		Where(!m.File().Name.Matches(`_test\.go$`)).
		Report(`time.Sleep in production code; select on ctx.Done() or a timer instead`)
}
