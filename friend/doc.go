// Package friend implements the friend directory: the CRUD façade over
// store.DB's friends table exposed to the UI, plus the Friend value type
// used to hand rows back to callers.
//
// Example:
//
//	dir := friend.NewDirectory(db)
//	f, err := dir.Add(ctx, "u1", "Alice")
//	dir.SetOnline(ctx, "u1", true, "endpoint-7")
package friend
