package registry

// BuildArgs returns the argument map for one call: the backend template,
// then overrides, then the artifact placed under InputArg.
func BuildArgs(b Backend, input string, overrides map[string]any) map[string]any {
	args := cloneArgs(b.Args)
	if args == nil {
		args = make(map[string]any)
	}
	for k, v := range overrides {
		args[k] = cloneValue(v)
	}
	if b.InputArg != "" {
		args[b.InputArg] = input
	}
	return args
}

func cloneArgs(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneArgs(t)
	case map[string]string:
		m := make(map[string]any, len(t))
		for k, s := range t {
			m[k] = s
		}
		return m
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
