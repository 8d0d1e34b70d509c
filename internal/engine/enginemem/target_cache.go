package enginemem

import "github.com/syncdoc/localstore/localstore"

type targetCache struct {
	working *state
}

func (c *targetCache) AddTargetData(_ localstore.Transaction, data localstore.TargetData) error {
	c.working.targets[data.TargetID] = data
	if data.TargetID > c.working.nextTargetID {
		c.working.nextTargetID = data.TargetID
	}

	if c.working.targetKeys[data.TargetID] == nil {
		c.working.targetKeys[data.TargetID] = make(map[localstore.DocumentKey]bool)
	}

	return nil
}

func (c *targetCache) UpdateTargetData(_ localstore.Transaction, data localstore.TargetData) error {
	c.working.targets[data.TargetID] = data

	return nil
}

func (c *targetCache) RemoveTargetData(_ localstore.Transaction, targetID int32) error {
	delete(c.working.targets, targetID)
	delete(c.working.targetKeys, targetID)

	return nil
}

func (c *targetCache) GetTargetData(_ localstore.Transaction, target localstore.Query) (localstore.TargetData, bool, error) {
	for _, data := range c.working.targets {
		if queriesEqual(data.Target, target) {
			return data, true, nil
		}
	}

	return localstore.TargetData{}, false, nil
}

func (c *targetCache) GetTargetDataByID(_ localstore.Transaction, targetID int32) (localstore.TargetData, bool, error) {
	data, ok := c.working.targets[targetID]

	return data, ok, nil
}

func (c *targetCache) AddMatchingKeys(_ localstore.Transaction, keys []localstore.DocumentKey, targetID int32) error {
	if c.working.targetKeys[targetID] == nil {
		c.working.targetKeys[targetID] = make(map[localstore.DocumentKey]bool)
	}

	for _, key := range keys {
		c.working.targetKeys[targetID][key] = true
	}

	return nil
}

func (c *targetCache) RemoveMatchingKeys(_ localstore.Transaction, keys []localstore.DocumentKey, targetID int32) error {
	for _, key := range keys {
		delete(c.working.targetKeys[targetID], key)
	}

	return nil
}

func (c *targetCache) GetMatchingKeys(_ localstore.Transaction, targetID int32) ([]localstore.DocumentKey, error) {
	out := make([]localstore.DocumentKey, 0, len(c.working.targetKeys[targetID]))
	for key := range c.working.targetKeys[targetID] {
		out = append(out, key)
	}

	return out, nil
}

func (c *targetCache) ContainsKey(_ localstore.Transaction, key localstore.DocumentKey) (bool, error) {
	for _, keys := range c.working.targetKeys {
		if keys[key] {
			return true, nil
		}
	}

	return false, nil
}

func (c *targetCache) HighestTargetID(_ localstore.Transaction) (int32, error) {
	return c.working.nextTargetID, nil
}

func (c *targetCache) HighestSequenceNumber(_ localstore.Transaction) (int64, error) {
	return c.working.highestSequence, nil
}

func (c *targetCache) TargetCount(_ localstore.Transaction) (int, error) {
	return len(c.working.targets), nil
}

func (c *targetCache) GetLastRemoteSnapshotVersion(_ localstore.Transaction) (localstore.SnapshotVersion, error) {
	return c.working.lastSnapshot, nil
}

func (c *targetCache) SetTargetsMetadata(_ localstore.Transaction, sequenceNumber int64, version localstore.SnapshotVersion) error {
	if sequenceNumber > c.working.highestSequence {
		c.working.highestSequence = sequenceNumber
	}

	c.working.lastSnapshot = version

	return nil
}

// queriesEqual compares two Query values field-by-field since Query carries
// slices and is not comparable with ==.
func queriesEqual(a, b localstore.Query) bool {
	if a.Path != b.Path || a.CollectionGroup != b.CollectionGroup || a.Limit != b.Limit {
		return false
	}

	if len(a.Filters) != len(b.Filters) || len(a.OrderBy) != len(b.OrderBy) {
		return false
	}

	for i := range a.Filters {
		if a.Filters[i] != b.Filters[i] {
			return false
		}
	}

	for i := range a.OrderBy {
		if a.OrderBy[i] != b.OrderBy[i] {
			return false
		}
	}

	return true
}
