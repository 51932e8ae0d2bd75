package domain

// RouteMatch é o resultado da resolução de rota: ou um template conhecido, ou
// o path cru de uma requisição que nenhuma rota atendeu.
type RouteMatch struct {
	Template string
	Matched  bool
}

func MatchedRoute(template string) RouteMatch {
	return RouteMatch{Template: template, Matched: true}
}

func UnmatchedRoute(rawPath string) RouteMatch {
	return RouteMatch{Template: rawPath, Matched: false}
}
