package correlation

import "axoncore/src/domain/entities"

// deepMerge aplica update sobre base: mapas fundem recursivamente, listas e escalares são substituídos.
// Nenhum dos argumentos é modificado.
func deepMerge(base, update map[string]any) map[string]any {
	out := entities.CloneMap(base)
	if out == nil {
		out = make(map[string]any, len(update))
	}

	for k, v := range update {
		incoming, incomingIsMap := v.(map[string]any)
		current, currentIsMap := out[k].(map[string]any)
		if incomingIsMap && currentIsMap {
			out[k] = deepMerge(current, incoming)
			continue
		}
		out[k] = entities.CloneValue(v)
	}

	return out
}
