// Package simpool manages a pool of simulator devices for parallel test
// runners.
//
// A Pool arbitrates exclusive access to the devices of one device set. It
// allocates a device matching a requested Configuration (reusing a free one
// or creating a new one), tracks which devices it is responsible for, and
// offers bulk cleanup: kill, erase or delete every device, and kill running
// devices nobody owns.
//
// # Basic Usage
//
//	import "github.com/giantswarm/simpool"
//
//	ctx := context.Background()
//
//	pool := simpool.NewPool(simpool.NewSimctlDeviceSet(""),
//	    simpool.WithFreeStrategy(simpool.FreeErase),
//	)
//	if err := pool.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close(ctx)
//
//	sim, err := pool.Allocate(ctx, simpool.Configuration{
//	    DeviceType: "iPhone 15",
//	    Runtime:    "iOS 17.2",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sim.FreeFromPool(ctx)
//
//	if err := sim.Boot(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if !sim.WaitOnState(ctx, simpool.StateBooted) {
//	    log.Fatal("simulator did not boot")
//	}
//
// # Parallel Test Runners
//
// A Pool is safe for concurrent use; no device is ever handed to two
// callers. Several processes sharing one device set can coordinate through
// a shared ledger file:
//
//	pool := simpool.NewPool(set, simpool.WithLedgerPath("/tmp/simpool/ledger.db"))
//
// Without a ledger, another process allocating from the same device set is
// not detected.
package simpool
