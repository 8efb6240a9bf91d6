package syncengine

var (
	_ ConflictResolver = (*ServerWinsResolver)(nil)
	_ ConflictResolver = (*LastWriteWinsResolver)(nil)
	_ ConflictResolver = (*FieldMergeResolver)(nil)
)

// ServerWinsResolver always keeps the server's copy. This is the default
// policy: the server is the consistency anchor across devices.
type ServerWinsResolver struct{}

func (r *ServerWinsResolver) Resolve(c Conflict) Resolution {
	if res, ok := resolveDelete(c); ok {
		return res
	}
	return Resolution{Item: c.Server.Clone(), Decision: "keep_server"}
}

// LastWriteWinsResolver keeps whichever side was modified later.
type LastWriteWinsResolver struct{}

func (r *LastWriteWinsResolver) Resolve(c Conflict) Resolution {
	if res, ok := resolveDelete(c); ok {
		return res
	}
	if itemUpdatedAt(c.Local).After(itemUpdatedAt(c.Server)) {
		return Resolution{Item: c.Local.Clone(), Decision: "keep_local"}
	}
	return Resolution{Item: c.Server.Clone(), Decision: "keep_server"}
}

// FieldMergeResolver starts from the server's payload and adds any key present
// only locally. Conflicting keys resolve to the server's value.
type FieldMergeResolver struct{}

func (r *FieldMergeResolver) Resolve(c Conflict) Resolution {
	if res, ok := resolveDelete(c); ok {
		return res
	}

	merged := c.Server.Clone()
	if merged.Data == nil {
		merged.Data = make(map[string]any)
	}
	for k, v := range c.Local.Data {
		if _, exists := merged.Data[k]; !exists {
			merged.Data[k] = deepCopyValue(v)
		}
	}
	return Resolution{Item: merged, Decision: "merge"}
}
