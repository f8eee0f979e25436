package pool

// Config holds the numeric sizing of a pool, loadable from YAML or a generic
// map. Factory and Reset are code and stay in Options.
type Config struct {
	InitialCount    int `yaml:"initial_count"`
	MaxCount        int `yaml:"max_count"`
	GrowthIncrement int `yaml:"growth_increment"`
	BlockCapacity   int `yaml:"block_capacity"`
}

// WithConfig returns a copy of o with the sizing taken from c.
func (o Options[T]) WithConfig(c Config) Options[T] {
	o.InitialCount = c.InitialCount
	o.MaxCount = c.MaxCount
	o.GrowthIncrement = c.GrowthIncrement
	o.BlockCapacity = c.BlockCapacity
	return o
}

// ConfigFromMap reads sizing keys from cfg, falling back to def for missing
// or mistyped values.
func ConfigFromMap(cfg map[string]any, def Config) Config {
	getInt := func(k string, d int) int {
		switch v := cfg[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		default:
			return d
		}
	}

	return Config{
		InitialCount:    getInt("initial_count", def.InitialCount),
		MaxCount:        getInt("max_count", def.MaxCount),
		GrowthIncrement: getInt("growth_increment", def.GrowthIncrement),
		BlockCapacity:   getInt("block_capacity", def.BlockCapacity),
	}
}
