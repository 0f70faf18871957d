package vector

// IDMap maintains the bijection between dense internal index positions
// and stable external memory ids. Positions are an internal, rebuildable
// detail and are never exposed outside this package. Tombstoned
// positions leave the bijection but stay counted so the compaction
// trigger can see them.
//
// IDMap is not safe for concurrent use on its own; Index guards it with
// its own lock.
type IDMap struct {
	byPos map[int]string
	byID  map[string]int
	dead  map[int]struct{}
}

// NewIDMap returns an empty id map.
func NewIDMap() *IDMap {
	return &IDMap{
		byPos: make(map[int]string),
		byID:  make(map[string]int),
		dead:  make(map[int]struct{}),
	}
}

// Put records the mapping position <-> externalID.
func (m *IDMap) Put(position int, externalID string) {
	m.byPos[position] = externalID
	m.byID[externalID] = position
}

// ID returns the external id at a live position.
func (m *IDMap) ID(position int) (string, bool) {
	id, ok := m.byPos[position]
	return id, ok
}

// Position returns the live position for an external id.
func (m *IDMap) Position(externalID string) (int, bool) {
	pos, ok := m.byID[externalID]
	return pos, ok
}

// Tombstone logically deletes the entry at position: it is removed from
// the bijection but still counts toward Dead(). Returns false if the
// position was not live.
func (m *IDMap) Tombstone(position int) bool {
	id, ok := m.byPos[position]
	if !ok {
		return false
	}
	delete(m.byPos, position)
	delete(m.byID, id)
	m.dead[position] = struct{}{}
	return true
}

// IsTombstoned reports whether position has been logically deleted.
func (m *IDMap) IsTombstoned(position int) bool {
	_, ok := m.dead[position]
	return ok
}

// Live returns the number of live (non-tombstoned) entries.
func (m *IDMap) Live() int {
	return len(m.byPos)
}

// Dead returns the number of tombstoned positions.
func (m *IDMap) Dead() int {
	return len(m.dead)
}
