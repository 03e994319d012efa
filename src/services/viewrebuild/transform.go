package viewrebuild

import (
	"slices"

	"axoncore/src/domain/entities"
)

// BuildView projeta uma Entity na View. O segundo retorno é false quando não sobra nenhum adapter
// depois de filtrar pending_delete; essas entidades não têm view.
func BuildView(entity entities.Entity) (entities.View, bool) {
	view := entities.View{
		InternalAxonID:      entity.InternalAxonID,
		AccurateForDatetime: entity.AccurateForDatetime,
		SpecificData:        []entities.SpecificDataEntry{},
		GenericData:         []entities.GenericDataEntry{},
		Adapters:            []string{},
		UniqueAdapterNames:  []string{},
		Labels:              []string{},
		AdaptersData:        map[string]map[string]any{},
	}

	for _, a := range entity.Adapters {
		if a.PendingDelete {
			continue
		}

		view.SpecificData = append(view.SpecificData, entities.SpecificDataEntry{
			PluginName:          a.PluginName,
			PluginUniqueName:    a.PluginUniqueName,
			Type:                entities.SpecificDataTypeEntity,
			ClientUsed:          a.ClientUsed,
			AccurateForDatetime: a.AccurateForDatetime,
			Data:                adapterData(a),
		})
		view.Adapters = append(view.Adapters, a.PluginName)
		view.UniqueAdapterNames = append(view.UniqueAdapterNames, a.PluginUniqueName)
	}

	if len(view.SpecificData) == 0 {
		return entities.View{}, false
	}

	for _, t := range entity.Tags {
		switch t.Type {
		case entities.TagTypeAdapterData:
			data, ok := t.Data.(map[string]any)
			if !ok {
				continue
			}
			view.SpecificData = append(view.SpecificData, entities.SpecificDataEntry{
				PluginName:                  t.PluginName,
				PluginUniqueName:            t.PluginUniqueName,
				Type:                        entities.SpecificDataTypeAdapterData,
				Name:                        t.Name,
				AssociatedAdapterPluginName: t.AssociatedAdapterPluginName,
				AccurateForDatetime:         t.AccurateForDatetime,
				Data:                        entities.CloneMap(data),
			})

		case entities.TagTypeData:
			view.GenericData = append(view.GenericData, entities.GenericDataEntry{
				PluginName:          t.PluginName,
				PluginUniqueName:    t.PluginUniqueName,
				Name:                t.Name,
				Type:                string(t.Type),
				Data:                entities.CloneValue(t.Data),
				AccurateForDatetime: t.AccurateForDatetime,
			})

		case entities.TagTypeLabel:
			if t.Enabled() && !slices.Contains(view.Labels, t.Name) {
				view.Labels = append(view.Labels, t.Name)
			}
		}
	}

	// mesma ordem do specific_data: em colisão de plugin_name o último vence
	for _, entry := range view.SpecificData {
		view.AdaptersData[entry.PluginName] = entry.Data
	}

	return view, true
}

func adapterData(a entities.AdapterRecord) map[string]any {
	data := entities.CloneMap(a.Data)
	if data == nil {
		data = map[string]any{}
	}
	data["id"] = a.ID
	if a.Old {
		data["_old"] = true
	}
	if a.LastSeen != nil {
		data["last_seen"] = *a.LastSeen
	}
	return data
}
