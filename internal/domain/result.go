package domain

// Counts is an online/total pair.
type Counts struct {
	Online int `json:"online"`
	Total  int `json:"total"`
}

// Summary holds the aggregate counts shown above the grid.
type Summary struct {
	All   Counts `json:"all"`
	Prod  Counts `json:"prod"`
	Stage Counts `json:"stage"`
}

// For returns the counts of one environment.
func (s Summary) For(env Environment) Counts {
	switch env {
	case Prod:
		return s.Prod
	case Stage:
		return s.Stage
	}
	return Counts{}
}

// Summarize counts online results overall and per environment. The
// environment of results[i] is taken from endpoints[i]; results without a
// matching endpoint only count toward All.
func Summarize(endpoints []Endpoint, results []Result) Summary {
	var s Summary
	for i, r := range results {
		s.All.Total++
		if r.Online() {
			s.All.Online++
		}
		if i >= len(endpoints) {
			continue
		}
		var c *Counts
		switch endpoints[i].Environment {
		case Prod:
			c = &s.Prod
		case Stage:
			c = &s.Stage
		default:
			continue
		}
		c.Total++
		if r.Online() {
			c.Online++
		}
	}
	return s
}

// Partition splits results by the environment of the endpoint at the same
// index, keeping registry order within each group.
func Partition(endpoints []Endpoint, results []Result) map[Environment][]Result {
	out := make(map[Environment][]Result, len(Environments))
	for i, r := range results {
		if i >= len(endpoints) {
			break
		}
		env := endpoints[i].Environment
		out[env] = append(out[env], r)
	}
	return out
}
