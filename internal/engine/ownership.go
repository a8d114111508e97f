package engine

// ownerPlaceholder is the sentinel the UI layer writes for rows created
// before any sign-in. Soft-owned tables replace it with the real identity
// on push.
const ownerPlaceholder = "local-user"

// applyOwnership attaches the acting identity to a payload according to
// the table's ownership class. The payload is modified in place (callers
// pass the normalized copy, never the queued original).
//
// Strict tables force-overwrite user_id: every row must carry the acting
// identity. Soft tables fill user_id only when it is missing, empty, or
// the placeholder — a row that already names a real owner keeps it.
// Tables with no ownership column have any stray user_id stripped.
//
// Shareable tables (foods, activities) marked public keep the creator's
// id rather than having it nulled; since soft filling already preserves a
// supplied owner, the public flag needs no extra handling beyond never
// clearing the field.
func applyOwnership(meta TableMeta, payload map[string]any, userID string) {
	switch meta.Ownership {
	case OwnershipNone:
		delete(payload, ownerField)

	case OwnershipStrict:
		if userID == "" {
			// Anonymous push of a strict-owned row: leave the payload as
			// queued rather than stamping an empty owner.
			return
		}

		payload[ownerField] = userID

	case OwnershipSoft:
		if userID == "" {
			return
		}

		current, _ := payload[ownerField].(string)
		if current == "" || current == ownerPlaceholder {
			payload[ownerField] = userID
		}
	}
}
