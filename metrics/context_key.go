package metrics

type contextKey int

const (
	RetriesKey contextKey = iota
)
