package comparer

import (
	"github.com/google/go-cmp/cmp"

	"axoncore/src/helper/jsonx"
)

// JSONData compara payloads genéricos (map[string]any, []any) pela forma canônica,
// então int64(1) e float64(1) são iguais e a ordem das chaves não importa.
func JSONData() cmp.Option {
	return cmp.FilterValues(func(x, y any) bool {
		return isJSONContainer(x) && isJSONContainer(y)
	}, cmp.Comparer(func(x, y any) bool {
		return jsonx.Equal(x, y)
	}))
}

func isJSONContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}
