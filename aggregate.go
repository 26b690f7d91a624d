package presence

import "strconv"

// memberIDFields is the ordered list of field names a participant record may
// carry its identifier under. The first field holding a non-empty value wins.
var memberIDFields = []string{"user_id", "userId", "id"}

// aggregateSnapshot converts a raw transport snapshot into the canonical
// online set. Records without an extractable identifier are skipped, they
// never abort aggregation of the rest of the snapshot.
func aggregateSnapshot(raw RawSnapshot) map[string]struct{} {
	online := make(map[string]struct{}, len(raw))

	for _, entry := range raw {
		switch records := entry.(type) {
		case []interface{}:
			for _, record := range records {
				addMember(online, record)
			}
		case []map[string]interface{}:
			for _, record := range records {
				addMember(online, record)
			}
		default:
			addMember(online, entry)
		}
	}

	return online
}

func addMember(online map[string]struct{}, record interface{}) {
	id, ok := extractMemberID(record)
	if !ok {
		return
	}
	online[id] = struct{}{}
}

func extractMemberID(record interface{}) (string, bool) {
	fields, ok := record.(map[string]interface{})
	if !ok {
		return "", false
	}

	for _, name := range memberIDFields {
		value, ok := fields[name]
		if !ok || value == nil {
			continue
		}
		if id := normalizeID(value); id != "" {
			return id, true
		}
	}

	return "", false
}

// normalizeID turns an opaque identifier into its string form. Both numeric
// and string identifiers occur in the wild, keeping a single map key type
// avoids mismatches between the two.
func normalizeID(value interface{}) string {
	switch id := value.(type) {
	case string:
		return id
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}
