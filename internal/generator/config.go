package generator

// Config drives the synthetic graph data generator.
type Config struct {
	VerticesPerLabel int
	EdgesPerLabel    int
	// FaultChance is the probability that a vertex is generated broken, with
	// a missing primary key or a value that does not match its data type.
	FaultChance float64
	Seed        int64
}

// DefaultConfig returns baseline settings for load testing the committer.
func DefaultConfig() Config {
	return Config{
		VerticesPerLabel: 100,
		EdgesPerLabel:    200,
		FaultChance:      0.05,
		Seed:             42,
	}
}
