// Package syncengine keeps a pet-adoption client usable without a
// network connection.
//
// Two durable buffers share one on-device SQLite store: an offline action
// queue that replays user mutations (favoriting, scheduling, donating)
// once connectivity returns, and an analytics recorder that buffers
// telemetry and delivers it in batches. Both persist first and sync
// later, under a shared scheduling discipline: a single-flight guard per
// component, a periodic poll, an edge trigger on network restore, and an
// opportunistic pass right after a write while online.
//
// Nothing in this package ever returns an error to the UI path. Failures
// are absorbed into a retry, a drop, or a no-op, and surfaced only
// through structured logs and the pending-action count.
//
// The Engine ties the pieces together:
//
//	cfg, err := config.Load("syncengine.yaml")
//	if err != nil {
//	    return err
//	}
//	engine, err := syncengine.New(syncengine.Options{
//	    Config: cfg,
//	    Handlers: map[string]queue.Handler{
//	        localstore.ActionAddFavorite: favorites.Add,
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	if err := engine.Init(); err != nil {
//	    return err
//	}
//	defer engine.Close()
//
//	engine.Queue().Enqueue(ctx, localstore.ActionAddFavorite, payload)
//	engine.Analytics().TrackPageView(ctx, "pet_detail")
package syncengine
