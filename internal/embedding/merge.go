package embedding

import (
	"github.com/timmy/voicecat/internal/domain"
)

// Merge reads the shard files and unions their entries. A key present in two
// shards is an *domain.AggregationIntegrityError. The merged content does not
// depend on the order of shards, and every array keeps the dtype and values
// it had in its shard.
func Merge(shards []string) (Members, error) {
	if len(shards) == 0 {
		return nil, domain.ErrNoShards
	}

	merged := make(Members)
	origin := make(map[string]string)

	for _, shard := range shards {
		part, err := ReadMembers(shard)
		if err != nil {
			return nil, err
		}
		for _, key := range part.Keys() {
			if first, dup := origin[key]; dup {
				return nil, &domain.AggregationIntegrityError{Key: key, FirstShard: first, SecondShard: shard}
			}
			origin[key] = shard
			merged[key] = part[key]
		}
	}

	return merged, nil
}
