// Package session stores conversation sessions in an app → user → session
// hierarchy with three-layer state.
//
// Invariants:
// - Event order is insertion order; events are never reordered or deduplicated.
// - LastUpdateTime is bumped on every structural mutation.
// - App and user state live in side tables and are overlaid at read time;
//   session-local keys win on collision, then user, then app.
// - Each (app, user) partition is guarded independently, so unrelated users
//   do not serialize on one lock.
//
// Usage:
//
//	store := session.NewInMemory(session.Config{Logger: logger})
//	sess, _ := store.CreateSession(ctx, "app", "user", nil, "")
//	_ = store.AppendEvent(ctx, "app", "user", sess.ID, session.Event{
//		Author:  "user",
//		Content: "hello",
//	})
package session
